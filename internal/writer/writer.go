// Package writer persists normalized entities with bounded retries.
package writer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/placepulse/review-harvester/internal/harvest"
)

// Config controls the retry behavior around store writes.
type Config struct {
	// MaxRetries is the number of extra attempts after the first failure.
	MaxRetries int
	// BackoffInitial is the delay before the first retry; it doubles per
	// attempt up to BackoffMax.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
}

// Writer wraps an EntityStore with ID assignment and bounded retry on
// transient failures. Exhausted retries surface as *harvest.PersistenceError.
type Writer struct {
	store  harvest.EntityStore
	idGen  harvest.IDGenerator
	cfg    Config
	logger *zap.Logger
}

// New constructs a Writer.
func New(store harvest.EntityStore, idGen harvest.IDGenerator, cfg Config, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Writer{
		store:  store,
		idGen:  idGen,
		cfg:    cfg,
		logger: logger,
	}
}

// WriteLocation upserts a location, minting its row ID when unset.
func (w *Writer) WriteLocation(ctx context.Context, loc harvest.Location) (uuid.UUID, harvest.WriteOutcome, error) {
	if loc.ID == uuid.Nil {
		id, err := w.idGen.NewRawID()
		if err != nil {
			return uuid.Nil, "", &harvest.PersistenceError{Op: "location id", Err: err}
		}
		loc.ID = id
	}
	var (
		id      uuid.UUID
		outcome harvest.WriteOutcome
	)
	err := w.retry(ctx, "upsert location", func() error {
		var err error
		id, outcome, err = w.store.UpsertLocation(ctx, loc)
		return err
	})
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, outcome, nil
}

// WriteBranch upserts a branch, minting its row ID when unset.
func (w *Writer) WriteBranch(ctx context.Context, br harvest.Branch) (uuid.UUID, harvest.WriteOutcome, error) {
	if br.ID == uuid.Nil {
		id, err := w.idGen.NewRawID()
		if err != nil {
			return uuid.Nil, "", &harvest.PersistenceError{Op: "branch id", Err: err}
		}
		br.ID = id
	}
	var (
		id      uuid.UUID
		outcome harvest.WriteOutcome
	)
	err := w.retry(ctx, "upsert branch", func() error {
		var err error
		id, outcome, err = w.store.UpsertBranch(ctx, br)
		return err
	})
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, outcome, nil
}

// WriteReview upserts a single review, minting its row ID when unset.
func (w *Writer) WriteReview(ctx context.Context, rev harvest.Review) (harvest.WriteOutcome, error) {
	if rev.ID == uuid.Nil {
		id, err := w.idGen.NewRawID()
		if err != nil {
			return "", &harvest.PersistenceError{Op: "review id", Err: err}
		}
		rev.ID = id
	}
	var outcome harvest.WriteOutcome
	err := w.retry(ctx, "upsert review", func() error {
		var err error
		outcome, err = w.store.UpsertReview(ctx, rev)
		return err
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// WriteReviews bulk-upserts a batch and returns per-record outcomes in input
// order.
func (w *Writer) WriteReviews(ctx context.Context, revs []harvest.Review) ([]harvest.WriteOutcome, error) {
	batch := make([]harvest.Review, len(revs))
	copy(batch, revs)
	for i := range batch {
		if batch[i].ID != uuid.Nil {
			continue
		}
		id, err := w.idGen.NewRawID()
		if err != nil {
			return nil, &harvest.PersistenceError{Op: "review id", Err: err}
		}
		batch[i].ID = id
	}
	var outcomes []harvest.WriteOutcome
	err := w.retry(ctx, "bulk upsert reviews", func() error {
		var err error
		outcomes, err = w.store.UpsertReviews(ctx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// retry runs op, retrying transient failures with exponential backoff. Fatal
// errors and exhausted retries are wrapped as *harvest.PersistenceError.
func (w *Writer) retry(ctx context.Context, op string, fn func() error) error {
	backoff := w.cfg.BackoffInitial
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			w.logger.Warn("retrying store write",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &harvest.PersistenceError{Op: op, Err: ctx.Err()}
			case <-timer.C:
			}
			backoff *= 2
			if backoff > w.cfg.BackoffMax {
				backoff = w.cfg.BackoffMax
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) {
			return &harvest.PersistenceError{Op: op, Err: lastErr}
		}
	}
	return &harvest.PersistenceError{Op: op, Err: lastErr}
}

// Transient reports whether a store error is worth retrying: connection
// failures (class 08), serialization failures and deadlocks.
func Transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.SQLState()
		if len(code) >= 2 && code[:2] == "08" {
			return true
		}
		switch code {
		case "40001", "40P01":
			return true
		}
		return false
	}
	// Stores that don't speak SQLSTATE can tag retryable failures.
	var tr interface{ Transient() bool }
	if errors.As(err, &tr) {
		return tr.Transient()
	}
	return false
}
