// Package tracker manages the per-job lifecycle state machine.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/placepulse/review-harvester/internal/harvest"
)

// Tracker drives jobs through created -> running -> terminal transitions on
// top of a JobStore, and carries the in-flight cancellation flags that have
// no place in the persisted row.
type Tracker struct {
	store  harvest.JobStore
	clock  harvest.Clock
	logger *zap.Logger

	mu        sync.Mutex
	cancelled map[uuid.UUID]struct{}
}

// New constructs a Tracker.
func New(store harvest.JobStore, clock harvest.Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:     store,
		clock:     clock,
		logger:    logger,
		cancelled: make(map[uuid.UUID]struct{}),
	}
}

// Begin registers a new job in the created state. A JobID that already has a
// row, terminal or not, is rejected with *harvest.ConflictError: retries must
// use a fresh JobID.
func (t *Tracker) Begin(ctx context.Context, req harvest.JobRequest) (harvest.Job, error) {
	job := harvest.Job{
		ID:            req.JobID,
		UserProfileID: req.UserProfileID,
		State:         harvest.JobStateCreated,
		StartedAt:     t.clock.Now(),
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, harvest.ErrJobExists) {
			return harvest.Job{}, &harvest.ConflictError{JobID: req.JobID}
		}
		return harvest.Job{}, fmt.Errorf("create job: %w", err)
	}
	t.logger.Info("job created",
		zap.String("job_id", job.ID.String()),
		zap.Int64("user_profile_id", job.UserProfileID),
	)
	return job, nil
}

// MarkRunning moves a created job to running.
func (t *Tracker) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	err := t.store.TransitionJob(ctx, jobID,
		harvest.JobStateCreated, harvest.JobStateRunning,
		"", harvest.ResultCounts{},
	)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// Finish moves a running job to its terminal state with final counts. The
// state-conflict case is logged and swallowed: a lost race means another
// actor already finalized the job, and terminal rows never regress.
func (t *Tracker) Finish(ctx context.Context, jobID uuid.UUID, state harvest.JobState, errText string, counts harvest.ResultCounts) error {
	if !state.Terminal() {
		return fmt.Errorf("finish job: %s is not a terminal state", state)
	}
	err := t.store.TransitionJob(ctx, jobID,
		harvest.JobStateRunning, state,
		errText, counts,
	)
	if err != nil {
		if errors.Is(err, harvest.ErrStateConflict) {
			t.logger.Warn("job already finalized",
				zap.String("job_id", jobID.String()),
				zap.String("wanted_state", string(state)),
			)
			return nil
		}
		return fmt.Errorf("finish job: %w", err)
	}
	t.forgetCancel(jobID)
	t.logger.Info("job finished",
		zap.String("job_id", jobID.String()),
		zap.String("state", string(state)),
		zap.Int("businesses", counts.Businesses),
		zap.Int("reviews", counts.Reviews),
		zap.Int("errors", counts.Errors),
	)
	return nil
}

// Abort fails a running job that was never dispatched, e.g. when the async
// queue cannot accept it.
func (t *Tracker) Abort(ctx context.Context, jobID uuid.UUID, errText string) error {
	err := t.store.TransitionJob(ctx, jobID,
		harvest.JobStateRunning, harvest.JobStateFailed,
		errText, harvest.ResultCounts{},
	)
	if err != nil {
		return fmt.Errorf("abort job: %w", err)
	}
	t.forgetCancel(jobID)
	t.logger.Warn("job aborted before start",
		zap.String("job_id", jobID.String()),
		zap.String("reason", errText),
	)
	return nil
}

// Get loads the current job record.
func (t *Tracker) Get(ctx context.Context, jobID uuid.UUID) (harvest.Job, error) {
	return t.store.GetJob(ctx, jobID)
}

// RequestCancel flags an active job for cancellation. The pipeline observes
// the flag between stream elements; terminal jobs reject the request.
func (t *Tracker) RequestCancel(ctx context.Context, jobID uuid.UUID) error {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return harvest.ErrStateConflict
	}
	t.mu.Lock()
	t.cancelled[jobID] = struct{}{}
	t.mu.Unlock()
	t.logger.Info("job cancellation requested", zap.String("job_id", jobID.String()))
	return nil
}

// CancelRequested reports whether a cancellation flag is set for the job.
func (t *Tracker) CancelRequested(jobID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.cancelled[jobID]
	return ok
}

func (t *Tracker) forgetCancel(jobID uuid.UUID) {
	t.mu.Lock()
	delete(t.cancelled, jobID)
	t.mu.Unlock()
}
