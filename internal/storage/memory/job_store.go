// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/placepulse/review-harvester/internal/harvest"
)

// JobStore keeps job lifecycle rows in a process-local map. Transitions use
// the same compare-and-set discipline as the Postgres store.
type JobStore struct {
	mu    sync.RWMutex
	clock harvest.Clock
	jobs  map[uuid.UUID]harvest.Job
}

// NewJobStore constructs a JobStore. A nil clock falls back to wall time.
func NewJobStore(clk harvest.Clock) *JobStore {
	if clk == nil {
		clk = wallClock{}
	}
	return &JobStore{
		clock: clk,
		jobs:  make(map[uuid.UUID]harvest.Job),
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// CreateJob stores a new job row. Rows are append-only; an existing JobID is
// rejected regardless of its state.
func (s *JobStore) CreateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return harvest.ErrJobExists
	}
	s.jobs[job.ID] = job
	return nil
}

// TransitionJob atomically moves a job between states.
func (s *JobStore) TransitionJob(
	_ context.Context,
	jobID uuid.UUID,
	from, to harvest.JobState,
	errText string,
	counts harvest.ResultCounts,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.ErrJobNotFound
	}
	if job.State != from {
		return harvest.ErrStateConflict
	}
	job.State = to
	job.LastError = errText
	job.Counts = counts
	if to.Terminal() {
		now := s.clock.Now().UTC()
		job.FinishedAt = &now
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID uuid.UUID) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.Job{}, harvest.ErrJobNotFound
	}
	return job, nil
}
