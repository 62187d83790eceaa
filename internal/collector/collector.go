// Package collector implements the external review-provider client.
//
// A collection run is submitted once, then its dataset is drained
// incrementally while the remote run progresses. The run is unbounded in
// wall-clock time; callers cancel via context.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/placepulse/review-harvester/internal/harvest"
)

// Run statuses reported by the provider.
const (
	runStatusRunning   = "RUNNING"
	runStatusSucceeded = "SUCCEEDED"
	runStatusFailed    = "FAILED"
	runStatusAborted   = "ABORTED"
)

// Config controls the provider client.
type Config struct {
	// BaseURL is the provider API root, e.g. https://api.example.com.
	BaseURL string
	// Token is the bearer token for all provider calls.
	Token string
	// PollInterval is the delay between dataset polls while the run is live.
	PollInterval time.Duration
	// PageSize bounds one dataset items request.
	PageSize int
	// NetworkRetries is the number of extra attempts for transient failures.
	NetworkRetries int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.NetworkRetries <= 0 {
		c.NetworkRetries = 3
	}
}

// Client talks to the review provider over HTTP.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Client. A nil httpClient falls back to a default with a
// per-request timeout; the overall run has none.
func New(httpClient *http.Client, cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("collector base URL is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

type runRequest struct {
	PlaceIDs         []string `json:"placeIds,omitempty"`
	SearchStrings    []string `json:"searchStrings,omitempty"`
	MaxReviews       int      `json:"maxReviews,omitempty"`
	ReviewsStartDate string   `json:"reviewsStartDate,omitempty"`
}

type runInfo struct {
	RunID     string `json:"runId"`
	DatasetID string `json:"datasetId"`
	Status    string `json:"status"`
}

type itemsPage struct {
	Items []harvest.RawReviewRecord `json:"items"`
}

// Collect submits a run and returns a stream that drains its dataset as the
// remote run progresses. Submission failures are classified CollectorErrors.
func (c *Client) Collect(ctx context.Context, criteria harvest.CollectCriteria) (harvest.RecordStream, error) {
	run, err := c.startRun(ctx, criteria)
	if err != nil {
		return nil, err
	}
	c.logger.Info("collection run started",
		zap.String("run_id", run.RunID),
		zap.String("dataset_id", run.DatasetID),
	)

	s := &stream{
		records: make(chan harvest.RawReviewRecord),
	}
	go c.drain(ctx, run, s)
	return s, nil
}

func (c *Client) startRun(ctx context.Context, criteria harvest.CollectCriteria) (runInfo, error) {
	body := runRequest{
		PlaceIDs:         criteria.PlaceIDs,
		SearchStrings:    criteria.SearchStrings,
		MaxReviews:       criteria.MaxReviews,
		ReviewsStartDate: criteria.StartDate,
	}
	var run runInfo
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/runs", body, &run); err != nil {
		return runInfo{}, err
	}
	if run.RunID == "" || run.DatasetID == "" {
		return runInfo{}, &harvest.CollectorError{
			Kind:   harvest.CollectorNetwork,
			Detail: "provider returned an incomplete run descriptor",
		}
	}
	return run, nil
}

// drain pages the dataset until the run reaches a terminal status and all
// yielded items have been consumed. The maxReviews cap is enforced by the
// provider per place; the stream relays every dataset item as-is.
func (c *Client) drain(ctx context.Context, run runInfo, s *stream) {
	defer close(s.records)

	offset := 0
	for {
		page, err := c.fetchItems(ctx, run.DatasetID, offset)
		if err != nil {
			s.fail(err)
			return
		}

		for _, rec := range page.Items {
			select {
			case s.records <- rec:
				offset++
			case <-ctx.Done():
				s.fail(&harvest.CollectorError{
					Kind:   harvest.CollectorNetwork,
					Detail: "run cancelled",
					Err:    ctx.Err(),
				})
				return
			}
		}

		// An empty page means we caught up with the run; check whether it is
		// still producing.
		if len(page.Items) < c.cfg.PageSize {
			status, err := c.fetchRunStatus(ctx, run.RunID)
			if err != nil {
				s.fail(err)
				return
			}
			switch status {
			case runStatusSucceeded:
				if len(page.Items) == 0 {
					return
				}
			case runStatusFailed, runStatusAborted:
				s.fail(&harvest.CollectorError{
					Kind:   harvest.CollectorNetwork,
					Detail: fmt.Sprintf("provider run %s ended with status %s", run.RunID, status),
				})
				return
			}
			if len(page.Items) == 0 {
				timer := time.NewTimer(c.cfg.PollInterval)
				select {
				case <-ctx.Done():
					timer.Stop()
					s.fail(&harvest.CollectorError{
						Kind:   harvest.CollectorNetwork,
						Detail: "run cancelled",
						Err:    ctx.Err(),
					})
					return
				case <-timer.C:
				}
			}
		}
	}
}

func (c *Client) fetchItems(ctx context.Context, datasetID string, offset int) (itemsPage, error) {
	url := fmt.Sprintf("%s/v1/datasets/%s/items?offset=%d&limit=%d",
		c.cfg.BaseURL, datasetID, offset, c.cfg.PageSize)
	var page itemsPage
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
		return itemsPage{}, err
	}
	return page, nil
}

func (c *Client) fetchRunStatus(ctx context.Context, runID string) (string, error) {
	var run runInfo
	if err := c.doJSON(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/runs/"+runID, nil, &run); err != nil {
		return "", err
	}
	if run.Status == "" {
		return runStatusRunning, nil
	}
	return run.Status, nil
}

// doJSON performs one provider call with bounded retries on transient
// failures. Auth and invalid-criteria responses fail immediately.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &harvest.CollectorError{
				Kind:   harvest.CollectorInvalidCriteria,
				Detail: "encode request body",
				Err:    err,
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.NetworkRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying provider call",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			timer := time.NewTimer(c.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &harvest.CollectorError{
					Kind:   harvest.CollectorNetwork,
					Detail: "call cancelled",
					Err:    ctx.Err(),
				}
			case <-timer.C:
			}
		}

		lastErr = c.doOnce(ctx, method, url, payload, out)
		if lastErr == nil {
			return nil
		}
		var cerr *harvest.CollectorError
		if errors.As(lastErr, &cerr) && cerr.Fatal() {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &harvest.CollectorError{Kind: harvest.CollectorNetwork, Detail: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &harvest.CollectorError{Kind: harvest.CollectorNetwork, Detail: "provider unreachable", Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &harvest.CollectorError{
			Kind:   harvest.CollectorAuth,
			Detail: fmt.Sprintf("provider rejected credentials (%d)", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusBadRequest:
		return &harvest.CollectorError{
			Kind:   harvest.CollectorInvalidCriteria,
			Detail: readErrorDetail(resp.Body),
		}
	case resp.StatusCode >= 400:
		return &harvest.CollectorError{
			Kind:   harvest.CollectorNetwork,
			Detail: fmt.Sprintf("provider returned status %d", resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &harvest.CollectorError{Kind: harvest.CollectorNetwork, Detail: "decode response", Err: err}
	}
	return nil
}

func readErrorDetail(r io.Reader) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return "provider rejected run criteria"
}
