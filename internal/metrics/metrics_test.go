package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, jobsTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserversDoNotPanic(t *testing.T) {
	Init()
	ObserveHTTPRequest(http.MethodPost, "/v1/jobs", http.StatusAccepted, 10*time.Millisecond)
	ObserveJob("completed")
	ObserveCollectorFailure("network")
	IncActiveRunners()
	DecActiveRunners()
	SetQueueDepth(3)
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/jobs/{job_id}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/jobs/abc/status")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveJob("failed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "harvester_jobs_total")
}
