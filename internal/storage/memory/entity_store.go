package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/placepulse/review-harvester/internal/harvest"
)

type branchKey struct {
	locationID uuid.UUID
	externalID string
}

type reviewKey struct {
	locationID uuid.UUID
	externalID string
}

// EntityStore performs natural-key upserts against process-local maps.
type EntityStore struct {
	mu        sync.Mutex
	locations map[string]harvest.Location
	branches  map[branchKey]harvest.Branch
	reviews   map[reviewKey]harvest.Review
}

// NewEntityStore constructs an EntityStore.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		locations: make(map[string]harvest.Location),
		branches:  make(map[branchKey]harvest.Branch),
		reviews:   make(map[reviewKey]harvest.Review),
	}
}

// UpsertLocation inserts the location or returns the existing row's ID.
func (s *EntityStore) UpsertLocation(_ context.Context, loc harvest.Location) (uuid.UUID, harvest.WriteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.locations[loc.ExternalPlaceID]; ok {
		return existing.ID, harvest.OutcomeAlreadyExisted, nil
	}
	s.locations[loc.ExternalPlaceID] = loc
	return loc.ID, harvest.OutcomeInserted, nil
}

// UpsertBranch inserts the branch or returns the existing row's ID.
func (s *EntityStore) UpsertBranch(_ context.Context, br harvest.Branch) (uuid.UUID, harvest.WriteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := branchKey{locationID: br.LocationID, externalID: br.ExternalID}
	if existing, ok := s.branches[key]; ok {
		return existing.ID, harvest.OutcomeAlreadyExisted, nil
	}
	s.branches[key] = br
	return br.ID, harvest.OutcomeInserted, nil
}

// UpsertReview inserts the review; a natural-key collision is a no-op.
func (s *EntityStore) UpsertReview(_ context.Context, rev harvest.Review) (harvest.WriteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertReviewLocked(rev), nil
}

// UpsertReviews bulk-inserts a batch and returns per-record outcomes.
func (s *EntityStore) UpsertReviews(_ context.Context, revs []harvest.Review) ([]harvest.WriteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcomes := make([]harvest.WriteOutcome, len(revs))
	for i, rev := range revs {
		outcomes[i] = s.upsertReviewLocked(rev)
	}
	return outcomes, nil
}

func (s *EntityStore) upsertReviewLocked(rev harvest.Review) harvest.WriteOutcome {
	key := reviewKey{locationID: rev.LocationID, externalID: rev.ExternalID}
	if _, ok := s.reviews[key]; ok {
		return harvest.OutcomeAlreadyExisted
	}
	s.reviews[key] = rev
	return harvest.OutcomeInserted
}

// ReviewCount reports the number of persisted reviews (test helper).
func (s *EntityStore) ReviewCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reviews)
}

// LocationCount reports the number of persisted locations (test helper).
func (s *EntityStore) LocationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locations)
}
