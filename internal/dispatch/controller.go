package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/placepulse/review-harvester/internal/harvest"
	"github.com/placepulse/review-harvester/internal/metrics"
	qmemory "github.com/placepulse/review-harvester/internal/queue/memory"
	"github.com/placepulse/review-harvester/internal/tracker"
)

// ErrQueueFull rejects an async submission when the dispatch queue cannot
// accept more work.
var ErrQueueFull = errors.New("dispatch queue is full")

// Config controls the dispatch controller and its runner pool.
type Config struct {
	// Concurrency is the number of pipeline runners for async jobs.
	Concurrency int
	// QueueDepth bounds the async queue.
	QueueDepth int
	// MaxReviewsDefault substitutes for an absent per-request cap. Zero means
	// unlimited.
	MaxReviewsDefault int
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
}

// Controller is the submission front door: it validates requests, registers
// jobs, and routes them to an inline pipeline run or the async queue.
type Controller struct {
	tracker *tracker.Tracker
	runner  *Runner
	queue   *qmemory.Queue
	cfg     Config
	logger  *zap.Logger
}

// NewController constructs a Controller with its own bounded queue.
func NewController(tr *tracker.Tracker, runner *Runner, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Controller{
		tracker: tr,
		runner:  runner,
		queue:   qmemory.NewQueue(cfg.QueueDepth),
		cfg:     cfg,
		logger:  logger,
	}
}

// Submit accepts one harvest request. Synchronous submissions block until the
// job reaches a terminal state; asynchronous ones return the created job
// immediately and run on the pool.
func (c *Controller) Submit(ctx context.Context, req harvest.JobRequest) (harvest.Job, error) {
	if err := harvest.ValidateRequest(req); err != nil {
		return harvest.Job{}, err
	}
	if req.MaxReviews == 0 {
		req.MaxReviews = c.cfg.MaxReviewsDefault
	}

	job, err := c.tracker.Begin(ctx, req)
	if err != nil {
		return harvest.Job{}, err
	}
	// The job enters running before the sync/async branch so an async ack
	// already reflects the state the pipeline will run in.
	if err := c.tracker.MarkRunning(ctx, req.JobID); err != nil {
		return harvest.Job{}, err
	}
	job.State = harvest.JobStateRunning

	if !req.ReturnImmediately {
		return c.runner.Execute(ctx, req)
	}

	if !c.queue.TryEnqueue(qmemory.Task{Request: req}) {
		if abortErr := c.tracker.Abort(ctx, req.JobID, ErrQueueFull.Error()); abortErr != nil {
			c.logger.Error("abort overflowed job",
				zap.String("job_id", req.JobID.String()),
				zap.Error(abortErr),
			)
		}
		return harvest.Job{}, ErrQueueFull
	}
	metrics.SetQueueDepth(c.queue.Len())
	return job, nil
}

// Status returns the current job record.
func (c *Controller) Status(ctx context.Context, jobID uuid.UUID) (harvest.Job, error) {
	return c.tracker.Get(ctx, jobID)
}

// Cancel flags an active job for cancellation. The pipeline observes the flag
// between stream elements; already-persisted entities stay put.
func (c *Controller) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return c.tracker.RequestCancel(ctx, jobID)
}

// Run starts the async runner pool and blocks until the context finishes.
func (c *Controller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.consume(ctx)
		}()
	}
	<-ctx.Done()
	c.queue.Close()
	wg.Wait()
}

func (c *Controller) consume(ctx context.Context) {
	for {
		task, err := c.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		metrics.SetQueueDepth(c.queue.Len())
		if _, err := c.runner.Execute(ctx, task.Request); err != nil {
			c.logger.Error("async pipeline run failed",
				zap.String("job_id", task.Request.JobID.String()),
				zap.Error(err),
			)
		}
	}
}

// QueueLen reports the current async backlog (test helper).
func (c *Controller) QueueLen() int {
	return c.queue.Len()
}
