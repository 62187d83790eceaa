// Package dispatch routes harvest jobs to pipeline runners, inline or
// through the async queue.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/placepulse/review-harvester/internal/harvest"
	"github.com/placepulse/review-harvester/internal/metrics"
	"github.com/placepulse/review-harvester/internal/progress"
	"github.com/placepulse/review-harvester/internal/tracker"
	"github.com/placepulse/review-harvester/internal/writer"
)

const cancelledMessage = "cancelled by operator"

// RunnerConfig controls pipeline execution.
type RunnerConfig struct {
	// Topic names the notification channel for terminal jobs.
	Topic string
	// ArchivePrefix prefixes raw payload blob paths.
	ArchivePrefix string
}

// Runner executes one harvest job end to end: collect, normalize, persist,
// finalize.
type Runner struct {
	tracker   *tracker.Tracker
	collector harvest.Collector
	writer    *writer.Writer
	blobStore harvest.BlobStore
	hasher    harvest.Hasher
	publisher harvest.Publisher
	clock     harvest.Clock
	emitter   progress.Emitter
	cfg       RunnerConfig
	logger    *zap.Logger
}

// NewRunner constructs a Runner. BlobStore, hasher, publisher and emitter are
// optional; a nil value disables that concern.
func NewRunner(
	tr *tracker.Tracker,
	coll harvest.Collector,
	wr *writer.Writer,
	blobStore harvest.BlobStore,
	hasher harvest.Hasher,
	publisher harvest.Publisher,
	clock harvest.Clock,
	emitter progress.Emitter,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		tracker:   tr,
		collector: coll,
		writer:    wr,
		blobStore: blobStore,
		hasher:    hasher,
		publisher: publisher,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute runs the pipeline for one job and returns the terminal record.
// The job must already be in the running state.
func (r *Runner) Execute(ctx context.Context, req harvest.JobRequest) (harvest.Job, error) {
	metrics.IncActiveRunners()
	defer metrics.DecActiveRunners()

	started := r.clock.Now()
	r.emit(progress.Event{
		JobID: progress.UUIDToBytes(req.JobID),
		TS:    started,
		Stage: progress.StageJobStart,
	})

	state, errText, counts := r.runPipeline(ctx, req)

	if err := r.tracker.Finish(ctx, req.JobID, state, errText, counts); err != nil {
		return harvest.Job{}, err
	}
	metrics.ObserveJob(string(state))

	stage := progress.StageJobDone
	if state != harvest.JobStateCompleted {
		stage = progress.StageJobError
	}
	r.emit(progress.Event{
		JobID: progress.UUIDToBytes(req.JobID),
		TS:    r.clock.Now(),
		Stage: stage,
		State: string(state),
		Dur:   r.clock.Now().Sub(started),
		Note:  errText,
	})
	r.notify(ctx, req.JobID, state, errText, counts)

	return r.tracker.Get(ctx, req.JobID)
}

// runPipeline consumes the collector stream and persists every record,
// deriving the terminal state from what happened along the way.
func (r *Runner) runPipeline(ctx context.Context, req harvest.JobRequest) (harvest.JobState, string, harvest.ResultCounts) {
	var counts harvest.ResultCounts

	// The collect context is torn down when the pipeline stops consuming, so
	// an interrupted run does not keep paging the provider.
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	stream, err := r.collector.Collect(ctx, harvest.CollectCriteria{
		PlaceIDs:      req.PlaceIDs,
		SearchStrings: req.SearchStrings,
		MaxReviews:    req.MaxReviews,
		StartDate:     req.ReviewsStartDate,
	})
	if err != nil {
		r.observeCollectorFailure(err)
		return harvest.JobStateFailed, err.Error(), counts
	}

	seenPlaces := make(map[string]struct{})
	var abortErr error
	cancelled := false

	for rec := range stream.Records() {
		if r.tracker.CancelRequested(req.JobID) {
			cancelled = true
			break
		}
		if err := r.processRecord(ctx, req.JobID, rec, seenPlaces, &counts); err != nil {
			abortErr = err
			break
		}
	}
	switch {
	case cancelled:
		return harvest.JobStateFailed, cancelledMessage, counts
	case abortErr != nil:
		return partialOrFailed(counts), abortErr.Error(), counts
	}
	if streamErr := stream.Err(); streamErr != nil {
		r.observeCollectorFailure(streamErr)
		return partialOrFailed(counts), streamErr.Error(), counts
	}
	return harvest.JobStateCompleted, "", counts
}

// processRecord handles one raw record. Malformed records and provider error
// records are counted and skipped; persistence failures abort the run.
func (r *Runner) processRecord(
	ctx context.Context,
	jobID uuid.UUID,
	rec harvest.RawReviewRecord,
	seenPlaces map[string]struct{},
	counts *harvest.ResultCounts,
) error {
	r.archive(ctx, jobID, rec)

	norm, err := harvest.Normalize(rec)
	if err != nil {
		counts.Errors++
		r.emit(progress.Event{
			JobID:  progress.UUIDToBytes(jobID),
			TS:     r.clock.Now(),
			Stage:  progress.StageRecordSkipped,
			Reason: "malformed",
			Note:   err.Error(),
		})
		return nil
	}

	norm.Location.JobID = jobID
	locID, _, err := r.writer.WriteLocation(ctx, norm.Location)
	if err != nil {
		return err
	}
	if _, seen := seenPlaces[norm.Location.ExternalPlaceID]; !seen {
		seenPlaces[norm.Location.ExternalPlaceID] = struct{}{}
		counts.Businesses++
	}

	var branchID *uuid.UUID
	if norm.Branch != nil {
		br := *norm.Branch
		br.LocationID = locID
		br.JobID = jobID
		bid, _, err := r.writer.WriteBranch(ctx, br)
		if err != nil {
			return err
		}
		branchID = &bid
	}

	if norm.ProviderError != "" {
		counts.Errors++
		r.emit(progress.Event{
			JobID:  progress.UUIDToBytes(jobID),
			TS:     r.clock.Now(),
			Stage:  progress.StageRecordSkipped,
			Reason: "provider_error",
			Note:   norm.ProviderError,
		})
		return nil
	}

	rev := *norm.Review
	rev.LocationID = locID
	rev.BranchID = branchID
	rev.JobID = jobID
	outcome, err := r.writer.WriteReview(ctx, rev)
	if err != nil {
		return err
	}
	counts.Reviews++
	r.emit(progress.Event{
		JobID:   progress.UUIDToBytes(jobID),
		TS:      r.clock.Now(),
		Stage:   progress.StageReviewWritten,
		Outcome: string(outcome),
	})
	return nil
}

// archive stores the raw payload content-addressed under the job. Failures
// are logged and never affect the pipeline.
func (r *Runner) archive(ctx context.Context, jobID uuid.UUID, rec harvest.RawReviewRecord) {
	if r.blobStore == nil || r.hasher == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		r.logger.Warn("encode raw record for archive", zap.Error(err))
		return
	}
	hash, err := r.hasher.Hash(data)
	if err != nil {
		r.logger.Warn("hash raw record", zap.Error(err))
		return
	}
	path := r.blobPath(jobID.String(), hash)
	if _, err := r.blobStore.PutObject(ctx, path, "application/json", data); err != nil {
		r.logger.Warn("archive raw record",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}

func (r *Runner) blobPath(jobID, hash string) string {
	prefix := strings.Trim(r.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, jobID, hash)
}

// notify publishes a terminal-job notification; failures are logged only.
func (r *Runner) notify(ctx context.Context, jobID uuid.UUID, state harvest.JobState, errText string, counts harvest.ResultCounts) {
	if r.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":        jobID.String(),
		"state":         state,
		"result_counts": counts,
	}
	if errText != "" {
		payload["last_error"] = errText
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
		r.logger.Warn("publish job notification",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}

func (r *Runner) observeCollectorFailure(err error) {
	var cerr *harvest.CollectorError
	if errors.As(err, &cerr) {
		metrics.ObserveCollectorFailure(string(cerr.Kind))
	}
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter != nil {
		r.emitter.Emit(evt)
	}
}

// partialOrFailed picks the terminal state for an interrupted run: partial
// once at least one review landed, failed otherwise.
func partialOrFailed(counts harvest.ResultCounts) harvest.JobState {
	if counts.Reviews > 0 {
		return harvest.JobStatePartial
	}
	return harvest.JobStateFailed
}
