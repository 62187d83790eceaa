// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/placepulse/review-harvester/internal/harvest"
)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool builds a pgx pool from config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// JobStore implements harvest.JobStore against the jobs table.
type JobStore struct {
	pool dbPool
}

// NewJobStore constructs a JobStore from an existing pool.
func NewJobStore(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row. Rows are append-only; a JobID that is
// already present, terminal or not, is rejected with ErrJobExists.
func (s *JobStore) CreateJob(ctx context.Context, job harvest.Job) error {
	query := `
		INSERT INTO jobs (job_id, user_profile_id, state, started_at, businesses, reviews, errors, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		job.UserProfileID,
		job.State,
		job.StartedAt,
		job.Counts.Businesses,
		job.Counts.Reviews,
		job.Counts.Errors,
		job.LastError,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrJobExists
	}
	return nil
}

// TransitionJob applies a compare-and-set state transition. The WHERE clause
// on the current state makes concurrent or stale transitions lose cleanly.
func (s *JobStore) TransitionJob(
	ctx context.Context,
	jobID uuid.UUID,
	from, to harvest.JobState,
	errText string,
	counts harvest.ResultCounts,
) error {
	query := `
		UPDATE jobs
		SET state = $1, last_error = $2, businesses = $3, reviews = $4, errors = $5
		WHERE job_id = $6 AND state = $7;
	`
	if to.Terminal() {
		query = `
		UPDATE jobs
		SET state = $1, last_error = $2, businesses = $3, reviews = $4, errors = $5, finished_at = now()
		WHERE job_id = $6 AND state = $7;
	`
	}
	tag, err := s.pool.Exec(ctx, query,
		to, errText, counts.Businesses, counts.Reviews, counts.Errors, jobID, from,
	)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, jobID); errors.Is(getErr, harvest.ErrJobNotFound) {
			return harvest.ErrJobNotFound
		}
		return harvest.ErrStateConflict
	}
	return nil
}

// GetJob loads a single job row or returns ErrJobNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID uuid.UUID) (harvest.Job, error) {
	query := `
		SELECT job_id, user_profile_id, state, started_at, finished_at, businesses, reviews, errors, last_error
		FROM jobs
		WHERE job_id = $1;
	`
	var job harvest.Job
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.UserProfileID,
		&job.State,
		&job.StartedAt,
		&job.FinishedAt,
		&job.Counts.Businesses,
		&job.Counts.Reviews,
		&job.Counts.Errors,
		&job.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Job{}, harvest.ErrJobNotFound
		}
		return harvest.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}
