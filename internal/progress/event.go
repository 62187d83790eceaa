// Package progress defines the event structures emitted by the harvest
// pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart      Stage = "JOB_START"
	StageJobDone       Stage = "JOB_DONE"
	StageJobError      Stage = "JOB_ERROR"
	StageReviewWritten Stage = "REVIEW_WRITTEN"
	StageRecordSkipped Stage = "RECORD_SKIPPED"
)

// Event captures a single milestone of harvest progress.
type Event struct {
	// JobID uniquely identifies a job run using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or record milestone occurred.
	Stage Stage
	// State carries the terminal job state for JOB_DONE/JOB_ERROR.
	State string
	// Outcome is the upsert result for REVIEW_WRITTEN (inserted or
	// already_existed).
	Outcome string
	// Reason classifies RECORD_SKIPPED events (malformed, provider_error)
	// and JOB_ERROR collector kinds.
	Reason string
	// Dur captures wall time for job completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart:
	case StageJobDone, StageJobError:
		if e.State == "" {
			return errors.New("job completion requires a state")
		}
	case StageReviewWritten:
		if e.Outcome == "" {
			return errors.New("review written requires an outcome")
		}
	case StageRecordSkipped:
		if e.Reason == "" {
			return errors.New("record skipped requires a reason")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID to uuid.UUID for sinks.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
