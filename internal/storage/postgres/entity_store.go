package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/placepulse/review-harvester/internal/harvest"
)

// EntityStore implements harvest.EntityStore against the locations,
// branches and reviews tables. All writes are natural-key upserts: the
// INSERT ... ON CONFLICT DO NOTHING primitive serializes concurrent writers,
// so the loser observes already_existed instead of a unique violation.
type EntityStore struct {
	pool dbPool
}

// NewEntityStore constructs an EntityStore from an existing pool.
func NewEntityStore(pool dbPool) (*EntityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &EntityStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *EntityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertLocation inserts the location or resolves the existing row's ID.
// Location rows are never deleted, so the fallback SELECT after a conflict
// cannot miss.
func (s *EntityStore) UpsertLocation(ctx context.Context, loc harvest.Location) (uuid.UUID, harvest.WriteOutcome, error) {
	insert := `
		INSERT INTO locations (id, external_place_id, name, category, address, city, postal_code, country_code, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_place_id) DO NOTHING
		RETURNING id;
	`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, insert,
		loc.ID,
		loc.ExternalPlaceID,
		loc.Name,
		loc.Category,
		loc.Address,
		loc.City,
		loc.PostalCode,
		loc.CountryCode,
		loc.JobID,
	).Scan(&id)
	if err == nil {
		return id, harvest.OutcomeInserted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, "", fmt.Errorf("insert location: %w", err)
	}

	sel := `SELECT id FROM locations WHERE external_place_id = $1;`
	if err := s.pool.QueryRow(ctx, sel, loc.ExternalPlaceID).Scan(&id); err != nil {
		return uuid.Nil, "", fmt.Errorf("select location after conflict: %w", err)
	}
	return id, harvest.OutcomeAlreadyExisted, nil
}

// UpsertBranch inserts the branch or resolves the existing row's ID.
func (s *EntityStore) UpsertBranch(ctx context.Context, br harvest.Branch) (uuid.UUID, harvest.WriteOutcome, error) {
	insert := `
		INSERT INTO branches (id, location_id, branch_external_id, name, job_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (location_id, branch_external_id) DO NOTHING
		RETURNING id;
	`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, insert,
		br.ID,
		br.LocationID,
		br.ExternalID,
		br.Name,
		br.JobID,
	).Scan(&id)
	if err == nil {
		return id, harvest.OutcomeInserted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, "", fmt.Errorf("insert branch: %w", err)
	}

	sel := `SELECT id FROM branches WHERE location_id = $1 AND branch_external_id = $2;`
	if err := s.pool.QueryRow(ctx, sel, br.LocationID, br.ExternalID).Scan(&id); err != nil {
		return uuid.Nil, "", fmt.Errorf("select branch after conflict: %w", err)
	}
	return id, harvest.OutcomeAlreadyExisted, nil
}

// UpsertReview inserts the review; a natural-key collision is a successful
// no-op reported as already_existed.
func (s *EntityStore) UpsertReview(ctx context.Context, rev harvest.Review) (harvest.WriteOutcome, error) {
	insert := `
		INSERT INTO reviews (id, location_id, branch_id, external_review_id, author_id, rating, body, published_at, sentiment, category, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (location_id, external_review_id) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, insert,
		rev.ID,
		rev.LocationID,
		rev.BranchID,
		rev.ExternalID,
		rev.AuthorID,
		rev.Rating,
		rev.Text,
		rev.PublishedAt,
		rev.Sentiment,
		rev.Category,
		rev.JobID,
	)
	if err != nil {
		return "", fmt.Errorf("insert review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.OutcomeAlreadyExisted, nil
	}
	return harvest.OutcomeInserted, nil
}

// UpsertReviews bulk-inserts a batch for one location/branch and returns
// per-record outcomes in input order. Each upsert is individually atomic;
// a failure aborts the batch at that index.
func (s *EntityStore) UpsertReviews(ctx context.Context, revs []harvest.Review) ([]harvest.WriteOutcome, error) {
	outcomes := make([]harvest.WriteOutcome, 0, len(revs))
	for i, rev := range revs {
		outcome, err := s.UpsertReview(ctx, rev)
		if err != nil {
			return outcomes, fmt.Errorf("bulk insert review %d: %w", i, err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
