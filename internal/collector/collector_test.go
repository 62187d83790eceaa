package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/placepulse/review-harvester/internal/harvest"
)

// fakeProvider simulates the remote review provider: one run, one dataset,
// items appearing over successive polls.
type fakeProvider struct {
	mu       sync.Mutex
	items    []harvest.RawReviewRecord
	status   string
	runBody  map[string]any
	runCalls int
}

func (p *fakeProvider) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.runCalls++
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p.runBody))
		writeJSON(w, map[string]string{"runId": "run-1", "datasetId": "ds-1"})
	})
	mux.HandleFunc("GET /v1/runs/run-1", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		writeJSON(w, map[string]string{"runId": "run-1", "datasetId": "ds-1", "status": p.status})
	})
	mux.HandleFunc("GET /v1/datasets/ds-1/items", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > len(p.items) {
			end = len(p.items)
		}
		page := []harvest.RawReviewRecord{}
		if offset < len(p.items) {
			page = p.items[offset:end]
		}
		writeJSON(w, map[string]any{"items": page})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(nil, Config{
		BaseURL:      baseURL,
		Token:        "secret",
		PollInterval: 5 * time.Millisecond,
		PageSize:     3,
	}, nil)
	require.NoError(t, err)
	return client
}

func drainStream(t *testing.T, s harvest.RecordStream) []harvest.RawReviewRecord {
	t.Helper()
	var out []harvest.RawReviewRecord
	for rec := range s.Records() {
		out = append(out, rec)
	}
	return out
}

func makeItems(n int) []harvest.RawReviewRecord {
	return placeItems("P1", n)
}

func placeItems(placeID string, n int) []harvest.RawReviewRecord {
	items := make([]harvest.RawReviewRecord, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, harvest.RawReviewRecord{
			"placeId":  placeID,
			"reviewId": fmt.Sprintf("%s-R%d", placeID, i+1),
		})
	}
	return items
}

func TestCollectStreamsAllItems(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{items: makeItems(7), status: "SUCCEEDED"}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	client := testClient(t, srv.URL)
	s, err := client.Collect(context.Background(), harvest.CollectCriteria{PlaceIDs: []string{"P1"}})
	require.NoError(t, err)

	records := drainStream(t, s)
	require.NoError(t, s.Err())
	require.Len(t, records, 7)
	require.Equal(t, "P1-R1", records[0]["reviewId"])
	require.Equal(t, "P1-R7", records[6]["reviewId"])
}

func TestCollectForwardsCriteria(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{status: "SUCCEEDED"}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	client := testClient(t, srv.URL)
	s, err := client.Collect(context.Background(), harvest.CollectCriteria{
		PlaceIDs:   []string{"P1", "P2"},
		MaxReviews: 50,
		StartDate:  "2026-01-01",
	})
	require.NoError(t, err)
	drainStream(t, s)
	require.NoError(t, s.Err())

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Equal(t, []any{"P1", "P2"}, provider.runBody["placeIds"])
	require.Equal(t, float64(50), provider.runBody["maxReviews"])
	require.Equal(t, "2026-01-01", provider.runBody["reviewsStartDate"])
}

func TestCollectMaxReviewsCapsPerPlaceNotStreamTotal(t *testing.T) {
	t.Parallel()

	// The provider applies maxReviews per place before items land in the
	// dataset; a multi-place run may legitimately exceed it in total.
	items := append(placeItems("P1", 3), placeItems("P2", 3)...)
	provider := &fakeProvider{items: items, status: "SUCCEEDED"}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	client := testClient(t, srv.URL)
	s, err := client.Collect(context.Background(), harvest.CollectCriteria{
		PlaceIDs:   []string{"P1", "P2"},
		MaxReviews: 3,
	})
	require.NoError(t, err)

	records := drainStream(t, s)
	require.NoError(t, s.Err())
	require.Len(t, records, 6)
	require.Equal(t, "P2-R3", records[5]["reviewId"])

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Equal(t, float64(3), provider.runBody["maxReviews"])
}

func TestCollectAuthFailureIsFatal(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.Collect(context.Background(), harvest.CollectCriteria{PlaceIDs: []string{"P1"}})

	var cerr *harvest.CollectorError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, harvest.CollectorAuth, cerr.Kind)
	require.True(t, cerr.Fatal())
	// Fatal failures are not retried.
	require.Equal(t, 1, calls)
}

func TestCollectBadRequestIsInvalidCriteria(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]string{"error": "placeIds and searchStrings are mutually exclusive"})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.Collect(context.Background(), harvest.CollectCriteria{PlaceIDs: []string{"P1"}})

	var cerr *harvest.CollectorError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, harvest.CollectorInvalidCriteria, cerr.Kind)
	require.True(t, cerr.Fatal())
}

func TestCollectRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{"runId": "run-1", "datasetId": "ds-1"})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.Collect(context.Background(), harvest.CollectCriteria{PlaceIDs: []string{"P1"}})
	require.NoError(t, err)
}

func TestCollectFailedRunSurfacesStreamError(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{items: makeItems(2), status: "FAILED"}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	client := testClient(t, srv.URL)
	s, err := client.Collect(context.Background(), harvest.CollectCriteria{PlaceIDs: []string{"P1"}})
	require.NoError(t, err)

	records := drainStream(t, s)
	// Items yielded before the failure are still delivered.
	require.Len(t, records, 2)

	var cerr *harvest.CollectorError
	require.ErrorAs(t, s.Err(), &cerr)
	require.Equal(t, harvest.CollectorNetwork, cerr.Kind)
}

func TestCollectZeroRecordsEndsCleanly(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{status: "SUCCEEDED"}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	client := testClient(t, srv.URL)
	s, err := client.Collect(context.Background(), harvest.CollectCriteria{SearchStrings: []string{"cafes in nowhere"}})
	require.NoError(t, err)

	records := drainStream(t, s)
	require.NoError(t, s.Err())
	require.Empty(t, records)
}
