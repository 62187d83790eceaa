// Package harvest defines core types shared across subsystems.
package harvest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a harvest job.
type JobState string

// Job states persisted in the job store. Created and running are
// non-terminal; completed, failed and partial are final.
const (
	JobStateCreated   JobState = "created"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStatePartial   JobState = "partial"
)

// Terminal reports whether a state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStatePartial:
		return true
	default:
		return false
	}
}

// JobRequest is a caller-supplied request to harvest reviews for a set of
// locations. Exactly one of PlaceIDs/SearchStrings must be non-empty.
type JobRequest struct {
	JobID             uuid.UUID `json:"job_id"`
	UserProfileID     int64     `json:"user_profile_id"`
	PlaceIDs          []string  `json:"place_ids"`
	SearchStrings     []string  `json:"search_strings"`
	MaxReviews        int       `json:"max_reviews"`
	ReviewsStartDate  string    `json:"reviews_start_date,omitempty"`
	ReturnImmediately bool      `json:"return_immediately"`
}

// ResultCounts tracks per-job persistence outcomes.
type ResultCounts struct {
	Businesses int `json:"businesses"`
	Reviews    int `json:"reviews"`
	Errors     int `json:"errors"`
}

// Job is the persisted lifecycle record for one harvest request. Rows are
// append-only: one row per JobID, mutated only through state transitions,
// never deleted.
type Job struct {
	ID            uuid.UUID    `json:"job_id"`
	UserProfileID int64        `json:"user_profile_id"`
	State         JobState     `json:"state"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Counts        ResultCounts `json:"result_counts"`
	LastError     string       `json:"last_error,omitempty"`
}

// RawReviewRecord is an opaque provider-shaped record. It only exists
// in-memory while a pipeline run consumes the collector stream.
type RawReviewRecord map[string]any

// Location is the canonical business entity, deduplicated on the
// provider-assigned ExternalPlaceID.
type Location struct {
	ID              uuid.UUID `json:"id"`
	ExternalPlaceID string    `json:"external_place_id"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	Address         string    `json:"address"`
	City            string    `json:"city"`
	PostalCode      string    `json:"postal_code"`
	CountryCode     string    `json:"country_code"`
	JobID           uuid.UUID `json:"job_id"`
}

// Branch is an optional sub-location, keyed on (LocationID, ExternalID).
type Branch struct {
	ID         uuid.UUID `json:"id"`
	LocationID uuid.UUID `json:"location_id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	JobID      uuid.UUID `json:"job_id"`
}

// Review is a normalized review row, deduplicated on
// (LocationID, ExternalID).
type Review struct {
	ID          uuid.UUID  `json:"id"`
	LocationID  uuid.UUID  `json:"location_id"`
	BranchID    *uuid.UUID `json:"branch_id,omitempty"`
	ExternalID  string     `json:"external_id"`
	AuthorID    string     `json:"author_id"`
	Rating      float64    `json:"rating"`
	Text        string     `json:"text"`
	PublishedAt time.Time  `json:"published_at"`
	Sentiment   string     `json:"sentiment"`
	Category    string     `json:"category"`
	JobID       uuid.UUID  `json:"job_id"`
}

// WriteOutcome reports how an upsert resolved.
type WriteOutcome string

// Upsert outcomes. A natural-key collision is a successful no-op, never an
// error.
const (
	OutcomeInserted       WriteOutcome = "inserted"
	OutcomeAlreadyExisted WriteOutcome = "already_existed"
)

// CollectCriteria describes one collector run.
type CollectCriteria struct {
	PlaceIDs      []string
	SearchStrings []string
	MaxReviews    int
	StartDate     string
}

// RecordStream is a lazy, finite, non-restartable sequence of raw records.
// Records blocks as the remote run progresses; once the channel closes, Err
// reports whether the stream ended cleanly.
type RecordStream interface {
	Records() <-chan RawReviewRecord
	Err() error
}

// Collector submits a collection run to the external provider and exposes
// its results incrementally. The run is deliberately unbounded in wall-clock
// time; cancellation is honored only via ctx between yielded elements.
type Collector interface {
	Collect(ctx context.Context, criteria CollectCriteria) (RecordStream, error)
}

// JobStore persists job lifecycle records.
type JobStore interface {
	// CreateJob inserts a new row, returning ErrJobExists when the JobID is
	// already present (terminal or not).
	CreateJob(ctx context.Context, job Job) error
	// TransitionJob atomically moves a job from one state to another,
	// returning ErrStateConflict when the stored state no longer matches.
	TransitionJob(ctx context.Context, jobID uuid.UUID, from, to JobState, errText string, counts ResultCounts) error
	// GetJob loads a single job or returns ErrJobNotFound.
	GetJob(ctx context.Context, jobID uuid.UUID) (Job, error)
}

// EntityStore performs idempotent natural-key upserts of harvested entities.
type EntityStore interface {
	UpsertLocation(ctx context.Context, loc Location) (uuid.UUID, WriteOutcome, error)
	UpsertBranch(ctx context.Context, br Branch) (uuid.UUID, WriteOutcome, error)
	UpsertReview(ctx context.Context, rev Review) (WriteOutcome, error)
	// UpsertReviews bulk-inserts a batch for one location/branch and returns
	// per-record outcomes in input order.
	UpsertReviews(ctx context.Context, revs []Review) ([]WriteOutcome, error)
}

// Publisher pushes terminal-job notifications to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw provider payloads.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// Hasher produces content hashes for blob addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints row identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
