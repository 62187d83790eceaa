package tracker

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/placepulse/review-harvester/internal/clock/system"
	"github.com/placepulse/review-harvester/internal/harvest"
	"github.com/placepulse/review-harvester/internal/storage/memory"
)

func newTracker() (*Tracker, *memory.JobStore) {
	store := memory.NewJobStore(nil)
	return New(store, system.New(), nil), store
}

func TestBeginCreatesJob(t *testing.T) {
	t.Parallel()

	tr, store := newTracker()
	jobID := uuid.New()

	job, err := tr.Begin(context.Background(), harvest.JobRequest{JobID: jobID, UserProfileID: 2})
	require.NoError(t, err)
	require.Equal(t, harvest.JobStateCreated, job.State)
	require.False(t, job.StartedAt.IsZero())

	stored, err := store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStateCreated, stored.State)
}

func TestBeginRejectsDuplicateJobID(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker()
	jobID := uuid.New()
	req := harvest.JobRequest{JobID: jobID, UserProfileID: 2}

	_, err := tr.Begin(context.Background(), req)
	require.NoError(t, err)

	_, err = tr.Begin(context.Background(), req)
	var conflict *harvest.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, jobID, conflict.JobID)
}

func TestBeginRejectsDuplicateEvenAfterTerminal(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker()
	jobID := uuid.New()
	req := harvest.JobRequest{JobID: jobID, UserProfileID: 2}

	_, err := tr.Begin(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, tr.MarkRunning(context.Background(), jobID))
	require.NoError(t, tr.Finish(context.Background(), jobID, harvest.JobStateCompleted, "", harvest.ResultCounts{Reviews: 1}))

	_, err = tr.Begin(context.Background(), req)
	var conflict *harvest.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestFinishRecordsTerminalState(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker()
	jobID := uuid.New()

	_, err := tr.Begin(context.Background(), harvest.JobRequest{JobID: jobID, UserProfileID: 2})
	require.NoError(t, err)
	require.NoError(t, tr.MarkRunning(context.Background(), jobID))

	counts := harvest.ResultCounts{Businesses: 1, Reviews: 9, Errors: 1}
	require.NoError(t, tr.Finish(context.Background(), jobID, harvest.JobStatePartial, "collector stream interrupted", counts))

	job, err := tr.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatePartial, job.State)
	require.Equal(t, counts, job.Counts)
	require.NotNil(t, job.FinishedAt)
	require.Equal(t, "collector stream interrupted", job.LastError)
}

func TestFinishRejectsNonTerminalState(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker()
	err := tr.Finish(context.Background(), uuid.New(), harvest.JobStateRunning, "", harvest.ResultCounts{})
	require.Error(t, err)
}

func TestFinishLostRaceIsSilent(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker()
	jobID := uuid.New()

	_, err := tr.Begin(context.Background(), harvest.JobRequest{JobID: jobID, UserProfileID: 2})
	require.NoError(t, err)
	require.NoError(t, tr.MarkRunning(context.Background(), jobID))
	require.NoError(t, tr.Finish(context.Background(), jobID, harvest.JobStateCompleted, "", harvest.ResultCounts{}))

	// A second finalizer loses the race; terminal rows never regress.
	require.NoError(t, tr.Finish(context.Background(), jobID, harvest.JobStateFailed, "late", harvest.ResultCounts{}))

	job, err := tr.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStateCompleted, job.State)
}

func TestAbortFailsAcceptedJob(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker()
	jobID := uuid.New()

	_, err := tr.Begin(context.Background(), harvest.JobRequest{JobID: jobID, UserProfileID: 2})
	require.NoError(t, err)
	require.NoError(t, tr.MarkRunning(context.Background(), jobID))

	require.NoError(t, tr.Abort(context.Background(), jobID, "dispatch queue is full"))

	job, err := tr.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStateFailed, job.State)
	require.Equal(t, "dispatch queue is full", job.LastError)
	require.NotNil(t, job.FinishedAt)
}

func TestRequestCancelFlagsActiveJob(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker()
	jobID := uuid.New()

	_, err := tr.Begin(context.Background(), harvest.JobRequest{JobID: jobID, UserProfileID: 2})
	require.NoError(t, err)
	require.NoError(t, tr.MarkRunning(context.Background(), jobID))

	require.False(t, tr.CancelRequested(jobID))
	require.NoError(t, tr.RequestCancel(context.Background(), jobID))
	require.True(t, tr.CancelRequested(jobID))

	// Finishing clears the flag.
	require.NoError(t, tr.Finish(context.Background(), jobID, harvest.JobStateFailed, "cancelled by operator", harvest.ResultCounts{}))
	require.False(t, tr.CancelRequested(jobID))
}

func TestRequestCancelRejectsTerminalJob(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker()
	jobID := uuid.New()

	_, err := tr.Begin(context.Background(), harvest.JobRequest{JobID: jobID, UserProfileID: 2})
	require.NoError(t, err)
	require.NoError(t, tr.MarkRunning(context.Background(), jobID))
	require.NoError(t, tr.Finish(context.Background(), jobID, harvest.JobStateCompleted, "", harvest.ResultCounts{}))

	require.ErrorIs(t, tr.RequestCancel(context.Background(), jobID), harvest.ErrStateConflict)
}

func TestRequestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker()
	require.ErrorIs(t, tr.RequestCancel(context.Background(), uuid.New()), harvest.ErrJobNotFound)
}
