package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/recommender"
	"github.com/temcen/venuerec/pkg/models"
)

var (
	ErrTrainingInProgress = errors.New("a training job is already running")
	ErrJobNotFound        = errors.New("training job not found")
	ErrJobFinished        = errors.New("training job already finished")
)

// TrainingManager runs full refits as background jobs, one at a time. Finished job records are
// mirrored to redis so they survive the in-memory retention window.
type TrainingManager struct {
	engine  *recommender.Recommender
	redis   *redis.Client
	timeout time.Duration
	jobTTL  time.Duration
	logger  *logrus.Logger

	mu     sync.Mutex
	jobs   map[uuid.UUID]*models.TrainingJob
	active uuid.UUID
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTrainingManager accepts a nil redis client; job records then live in memory only.
func NewTrainingManager(engine *recommender.Recommender, redisClient *redis.Client, timeout, jobTTL time.Duration, logger *logrus.Logger) *TrainingManager {
	return &TrainingManager{
		engine:  engine,
		redis:   redisClient,
		timeout: timeout,
		jobTTL:  jobTTL,
		logger:  logger,
		jobs:    make(map[uuid.UUID]*models.TrainingJob),
	}
}

// Bootstrap brings the engine up at startup: from the stored snapshot when there is a usable
// one, otherwise by a synchronous full fit over the database.
func (m *TrainingManager) Bootstrap(ctx context.Context) error {
	err := m.engine.Load(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, recommender.ErrSnapshotNotFound), errors.Is(err, recommender.ErrSnapshotCorrupt):
		m.logger.WithError(err).Warn("No usable snapshot, fitting recommender from database")
	default:
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	if err := m.engine.Refit(ctx); err != nil {
		return fmt.Errorf("initial fit failed: %w", err)
	}
	return nil
}

// Start queues a full refit and returns immediately.
func (m *TrainingManager) Start(reason string) (*models.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != uuid.Nil {
		return nil, ErrTrainingInProgress
	}
	m.prune()

	job := &models.TrainingJob{
		JobID:     uuid.New(),
		Status:    models.JobStatusQueued,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	m.jobs[job.JobID] = job
	m.active = job.JobID
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(ctx, cancel, job.JobID)

	m.logger.WithFields(logrus.Fields{
		"job_id": job.JobID,
		"reason": reason,
	}).Info("Training job queued")

	snapshot := *job
	return &snapshot, nil
}

func (m *TrainingManager) Get(ctx context.Context, jobID uuid.UUID) (*models.TrainingJob, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	var snapshot models.TrainingJob
	if ok {
		snapshot = *job
	}
	m.mu.Unlock()
	if ok {
		return &snapshot, nil
	}

	if m.redis == nil {
		return nil, ErrJobNotFound
	}
	data, err := m.redis.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job from Redis: %w", err)
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &snapshot, nil
}

// Cancel aborts a running job. The job turns cancelled once the fit observes the cancellation.
func (m *TrainingManager) Cancel(jobID uuid.UUID) (*models.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil, ErrJobFinished
	}
	if m.active == jobID && m.cancel != nil {
		m.cancel()
	}
	m.logger.WithField("job_id", jobID).Info("Training job cancellation requested")

	snapshot := *job
	return &snapshot, nil
}

// Shutdown cancels the running job, if any, and waits for it to stop.
func (m *TrainingManager) Shutdown() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Wait blocks until the running job, if any, has finished.
func (m *TrainingManager) Wait() { m.wg.Wait() }

func (m *TrainingManager) run(ctx context.Context, cancel context.CancelFunc, jobID uuid.UUID) {
	defer m.wg.Done()
	defer cancel()

	m.update(jobID, func(job *models.TrainingJob) {
		now := time.Now().UTC()
		job.Status = models.JobStatusProcessing
		job.StartedAt = &now
	})

	err := m.engine.Refit(ctx)

	final := m.update(jobID, func(job *models.TrainingJob) {
		now := time.Now().UTC()
		job.CompletedAt = &now
		job.ModelVersion = m.engine.Version()
		switch {
		case err == nil:
			job.Status = models.JobStatusCompleted
		case errors.Is(err, context.Canceled):
			job.Status = models.JobStatusCancelled
			job.Error = err.Error()
		default:
			job.Status = models.JobStatusFailed
			job.Error = err.Error()
		}
	})

	m.mu.Lock()
	if m.active == jobID {
		m.active = uuid.Nil
		m.cancel = nil
	}
	m.mu.Unlock()

	m.persist(final)

	entry := m.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"status":  final.Status,
		"version": final.ModelVersion,
	})
	if err != nil {
		entry.WithError(err).Warn("Training job did not complete")
		return
	}
	entry.Info("Training job completed")
}

// update applies fn under the lock and returns a copy of the result.
func (m *TrainingManager) update(jobID uuid.UUID, fn func(*models.TrainingJob)) models.TrainingJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[jobID]
	fn(job)
	return *job
}

func (m *TrainingManager) persist(job models.TrainingJob) {
	if m.redis == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.redis.Set(ctx, jobKey(job.JobID), data, m.jobTTL).Err(); err != nil {
		m.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to store job in Redis")
	}
}

// prune drops finished jobs older than the retention window. Caller holds mu.
func (m *TrainingManager) prune() {
	if m.jobTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.jobTTL)
	for id, job := range m.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}

func jobKey(id uuid.UUID) string {
	return "training_job:" + id.String()
}
