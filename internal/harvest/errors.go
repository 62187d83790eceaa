package harvest

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors returned by job stores.
var (
	ErrJobExists     = errors.New("job already exists")
	ErrJobNotFound   = errors.New("job not found")
	ErrStateConflict = errors.New("job state transition conflict")
)

// ValidationError reports a malformed request field. It is surfaced
// synchronously at submission time, before any state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// ConflictError rejects a duplicate submission for a JobID that already has
// a row, whether active or terminal. Retries must use a fresh JobID.
type ConflictError struct {
	JobID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %s already submitted", e.JobID)
}

// CollectorErrorKind classifies collector boundary failures.
type CollectorErrorKind string

// Collector failure kinds. Auth and invalid-criteria failures are fatal;
// network failures are retried a bounded number of times first.
const (
	CollectorAuth            CollectorErrorKind = "auth"
	CollectorNetwork         CollectorErrorKind = "network"
	CollectorInvalidCriteria CollectorErrorKind = "invalid_criteria"
)

// CollectorError wraps a failure at the external collector boundary.
type CollectorError struct {
	Kind   CollectorErrorKind
	Detail string
	Err    error
}

func (e *CollectorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("collector %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("collector %s: %s", e.Kind, e.Detail)
}

func (e *CollectorError) Unwrap() error { return e.Err }

// Fatal reports whether the failure aborts the job immediately.
func (e *CollectorError) Fatal() bool {
	return e.Kind == CollectorAuth || e.Kind == CollectorInvalidCriteria
}

// PersistenceError wraps a store failure that survived the writer's bounded
// retries. It moves the job toward partial/failed depending on prior writes.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MalformedRecordError flags a single raw record that cannot be normalized.
// It is always recovered locally: the record is skipped and counted, the job
// continues.
type MalformedRecordError struct {
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record: %s", e.Reason)
}
