package statusclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dandantas/tabwatch/internal/model"
)

// CredentialHeader carries the job's session credential
const CredentialHeader = "X-Job-Token"

const maxBodyBytes = 1 << 20

// Client fetches job status from the remote processing API with retry and
// circuit breaking
type Client struct {
	baseURL        string
	httpClient     *http.Client
	retry          model.RetryConfig
	circuitBreaker *CircuitBreaker
	logger         *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCircuitBreaker replaces the default circuit breaker
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) { c.circuitBreaker = cb }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a status API client for baseURL
func NewClient(baseURL string, timeout time.Duration, retry model.RetryConfig, opts ...Option) *Client {
	retry.SetDefaults()
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     NewHTTPClient(timeout),
		retry:          retry,
		circuitBreaker: NewCircuitBreaker(5, 2, 60*time.Second),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusResponse is the wire shape of a successful status response
type statusResponse struct {
	Success      bool            `json:"success"`
	Status       model.JobStatus `json:"status"`
	Stage        model.Stage     `json:"stage"`
	Progress     int             `json:"progress"`
	ResultID     string          `json:"resultId"`
	ErrorMessage string          `json:"errorMessage"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// FetchStatus returns the current status of jobID. Transient failures are
// retried with exponential backoff before an error is returned.
func (c *Client) FetchStatus(ctx context.Context, jobID, credential string) (*model.StatusSnapshot, error) {
	if !c.circuitBreaker.CanAttempt() {
		c.logger.Warn("Circuit breaker is open, skipping status fetch",
			"job_id", jobID,
			"circuit_state", c.circuitBreaker.State().String(),
		)
		return nil, ErrCircuitOpen
	}

	strategy := NewRetryStrategy(c.retry)

	var lastErr error
	for attempt := 1; attempt <= strategy.MaxAttempts(); attempt++ {
		snapshot, statusCode, err := c.fetchOnce(ctx, jobID, credential)
		if err == nil {
			c.circuitBreaker.RecordSuccess()
			return snapshot, nil
		}
		lastErr = err

		if !strategy.ShouldRetry(attempt, statusCode, err) {
			if statusCode == 0 || statusCode >= 500 {
				c.circuitBreaker.RecordFailure()
			}
			c.logger.Debug("Status fetch failed, no retry",
				"job_id", jobID,
				"attempt", attempt,
				"status_code", statusCode,
				"error", err,
			)
			return nil, err
		}

		delay := strategy.CalculateDelay(attempt)
		c.logger.Warn("Status fetch failed, retrying",
			"job_id", jobID,
			"attempt", attempt,
			"next_retry_ms", delay.Milliseconds(),
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.circuitBreaker.RecordFailure()
	return nil, lastErr
}

// fetchOnce performs a single status request. The returned status code is
// zero when no HTTP response was received.
func (c *Client) fetchOnce(ctx context.Context, jobID, credential string) (*model.StatusSnapshot, int, error) {
	endpoint := fmt.Sprintf("%s/api/jobs/%s/status", c.baseURL, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(CredentialHeader, credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, newStatusError(resp.StatusCode, body)
	}

	var decoded statusResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, 0, fmt.Errorf("failed to decode status response: %w", err)
	}
	if !decoded.Success {
		return nil, resp.StatusCode, newStatusError(resp.StatusCode, body)
	}
	if !decoded.Status.Valid() {
		return nil, resp.StatusCode, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unknown job status %q", decoded.Status),
		}
	}

	return &model.StatusSnapshot{
		Status:       decoded.Status,
		Stage:        decoded.Stage,
		Progress:     decoded.Progress,
		ResultID:     decoded.ResultID,
		ErrorMessage: decoded.ErrorMessage,
		UpdatedAt:    decoded.UpdatedAt,
	}, resp.StatusCode, nil
}

// IsStatusError reports whether err carries a StatusError and returns it
func IsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
