package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/venuerec/internal/recommender"
	"github.com/temcen/venuerec/pkg/models"
)

// blockingSource blocks every full fit until its context ends.
type blockingSource struct {
	once    sync.Once
	started chan struct{}
}

func newBlockingSource() *blockingSource {
	return &blockingSource{started: make(chan struct{})}
}

func (s *blockingSource) TrainingData(ctx context.Context) (recommender.Universe, []recommender.Rating, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return recommender.Universe{}, nil, ctx.Err()
}

type fixedSource struct{}

func (fixedSource) TrainingData(context.Context) (recommender.Universe, []recommender.Rating, error) {
	return recommender.Universe{}, []recommender.Rating{
		{UserID: 1, PlaceID: 10, Value: 5},
		{UserID: 2, PlaceID: 20, Value: 1},
	}, nil
}

func engineWithSource(src recommender.TrainingSource, store recommender.SnapshotStore) *recommender.Recommender {
	cfg := recommender.DefaultConfig()
	cfg.Model.Components = 8
	return recommender.New(cfg, store, testLogger(), recommender.WithSource(src))
}

func TestTrainingManager_Bootstrap(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	catalog := NewCatalogService(mock, testLogger())
	store := recommender.NewFileStore(filepath.Join(t.TempDir(), "engine.snap"))

	t.Run("no snapshot fits from database", func(t *testing.T) {
		engine := engineWithSource(catalog, store)
		expectTrainingData(mock, []int64{1, 2}, []int64{10, 20}, [3]int64{1, 10, 5}, [3]int64{2, 20, 2})

		tm := NewTrainingManager(engine, nil, time.Minute, time.Hour, testLogger())
		require.NoError(t, tm.Bootstrap(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
		assert.True(t, engine.Ready())
	})

	t.Run("existing snapshot is loaded", func(t *testing.T) {
		engine := engineWithSource(catalog, store)
		tm := NewTrainingManager(engine, nil, time.Minute, time.Hour, testLogger())
		require.NoError(t, tm.Bootstrap(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, uint64(1), engine.Version())
	})

	t.Run("corrupt snapshot fits from database", func(t *testing.T) {
		require.NoError(t, os.WriteFile(store.Path(), []byte("garbage"), 0o600))
		engine := engineWithSource(catalog, store)
		expectTrainingData(mock, []int64{1}, []int64{10, 20}, [3]int64{1, 10, 5})

		tm := NewTrainingManager(engine, nil, time.Minute, time.Hour, testLogger())
		require.NoError(t, tm.Bootstrap(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
		assert.True(t, engine.Ready())
	})

	t.Run("failed initial fit", func(t *testing.T) {
		engine := engineWithSource(newBlockingSource(), nil)
		tm := NewTrainingManager(engine, nil, 10*time.Millisecond, time.Hour, testLogger())
		err := tm.Bootstrap(context.Background())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, engine.Ready())
	})
}

func TestTrainingManager_CompletesJob(t *testing.T) {
	engine := engineWithSource(fixedSource{}, nil)
	tm := NewTrainingManager(engine, nil, time.Minute, time.Hour, testLogger())

	job, err := tm.Start("nightly")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "nightly", job.Reason)

	tm.Wait()

	done, err := tm.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, uint64(1), done.ModelVersion)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)

	_, err = tm.Cancel(job.JobID)
	assert.ErrorIs(t, err, ErrJobFinished)

	// A finished job no longer blocks new ones.
	next, err := tm.Start("")
	require.NoError(t, err)
	tm.Wait()
	done, err = tm.Get(context.Background(), next.JobID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), done.ModelVersion)
}

func TestTrainingManager_OneJobAtATimeAndCancel(t *testing.T) {
	src := newBlockingSource()
	tm := NewTrainingManager(engineWithSource(src, nil), nil, time.Minute, time.Hour, testLogger())

	job, err := tm.Start("manual")
	require.NoError(t, err)
	<-src.started

	_, err = tm.Start("again")
	assert.ErrorIs(t, err, ErrTrainingInProgress)

	running, err := tm.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, running.Status)

	_, err = tm.Cancel(job.JobID)
	require.NoError(t, err)
	tm.Wait()

	cancelled, err := tm.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.NotEmpty(t, cancelled.Error)
}

func TestTrainingManager_Timeout(t *testing.T) {
	tm := NewTrainingManager(engineWithSource(newBlockingSource(), nil), nil, 20*time.Millisecond, time.Hour, testLogger())

	job, err := tm.Start("slow")
	require.NoError(t, err)
	tm.Wait()

	failed, err := tm.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "deadline exceeded")
}

func TestTrainingManager_Shutdown(t *testing.T) {
	src := newBlockingSource()
	tm := NewTrainingManager(engineWithSource(src, nil), nil, time.Minute, time.Hour, testLogger())

	job, err := tm.Start("")
	require.NoError(t, err)
	<-src.started
	tm.Shutdown()

	stopped, err := tm.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stopped.Status)
}

func TestTrainingManager_UnknownJob(t *testing.T) {
	tm := NewTrainingManager(engineWithSource(fixedSource{}, nil), nil, time.Minute, time.Hour, testLogger())

	_, err := tm.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = tm.Cancel(uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}
