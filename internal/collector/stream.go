package collector

import (
	"sync"

	"github.com/placepulse/review-harvester/internal/harvest"
)

// stream is the single-use record sequence backing one collection run.
type stream struct {
	records chan harvest.RawReviewRecord

	mu  sync.Mutex
	err error
}

// Records returns the record channel. It closes when the run ends, cleanly
// or not; consult Err afterwards.
func (s *stream) Records() <-chan harvest.RawReviewRecord {
	return s.records
}

// Err reports how the stream ended. Valid once Records is closed.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
