package recommender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// SnapshotStore holds one opaque snapshot blob per recommender instance.
type SnapshotStore interface {
	Save(ctx context.Context, blob []byte) error
	// Load returns ErrSnapshotNotFound when nothing has been saved yet.
	Load(ctx context.Context) ([]byte, error)
}

// FileStore keeps the snapshot in a single file, replaced atomically on every save.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(_ context.Context, blob []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	blob, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return blob, nil
}

// RedisStore keeps the snapshot under a single key; SET replaces it atomically.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Save(ctx context.Context, blob []byte) error {
	if err := s.client.Set(ctx, s.key, blob, 0).Err(); err != nil {
		return fmt.Errorf("store snapshot in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot from redis: %w", err)
	}
	return blob, nil
}
