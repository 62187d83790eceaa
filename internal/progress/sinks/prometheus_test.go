package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/placepulse/review-harvester/internal/progress"
)

func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	jobID := progress.UUIDToBytes(uuid.New())
	now := time.Now().UTC()
	batch := []progress.Event{
		{JobID: jobID, TS: now, Stage: progress.StageJobStart},
		{JobID: jobID, TS: now, Stage: progress.StageReviewWritten, Outcome: "inserted"},
		{JobID: jobID, TS: now, Stage: progress.StageReviewWritten, Outcome: "inserted"},
		{JobID: jobID, TS: now, Stage: progress.StageReviewWritten, Outcome: "already_existed"},
		{JobID: jobID, TS: now, Stage: progress.StageRecordSkipped, Reason: "malformed"},
		{JobID: jobID, TS: now, Stage: progress.StageJobDone, State: "completed", Dur: 2 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("completed")))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.reviews.WithLabelValues("inserted")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.reviews.WithLabelValues("already_existed")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.skipped.WithLabelValues("malformed")))
}

func TestPrometheusSinkDoubleRegisterFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
