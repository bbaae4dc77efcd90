package stiapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/observability"
)

const (
	methodRuns   = "runs"
	methodSteps  = "steps"
	methodSubset = "subset"

	// breakerTripAfter consecutive failures open the breaker on the next one.
	breakerTripAfter = 5

	maxBodyBytes = 64 << 20
)

// Client implements domain.GridSource against the STI HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an STI API client. Each request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    newBreaker("sti-api", logger),
		metrics:    metrics,
		logger:     logger,
	}
}

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > breakerTripAfter
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// isSuccessful keeps client-side outcomes (4xx, caller cancellation) from
// counting against the upstream.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code < http.StatusInternalServerError
	}
	return false
}

// Runs lists the model runs the API has published.
func (c *Client) Runs(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, methodRuns, "/sti/runs", nil)
	if err != nil {
		return nil, err
	}
	var runs []string
	if err := json.Unmarshal(body, &runs); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	return runs, nil
}

// Steps lists the forecast steps of a run.
func (c *Client) Steps(ctx context.Context, run string) ([]string, error) {
	body, err := c.get(ctx, methodSteps, "/sti/"+url.PathEscape(run)+"/steps", nil)
	if err != nil {
		return nil, err
	}
	var steps []string
	if err := json.Unmarshal(body, &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return steps, nil
}

// Subset fetches the STI grid of a run and step inside bounds.
func (c *Client) Subset(ctx context.Context, run, step string, bounds domain.Bounds) (domain.GridSubset, error) {
	if err := bounds.Validate(); err != nil {
		return domain.GridSubset{}, err
	}

	path := "/sti/" + url.PathEscape(run) + "/" + url.PathEscape(step) + "/subset"
	query := url.Values{
		"lat_min": {formatCoord(bounds.LatMin)},
		"lat_max": {formatCoord(bounds.LatMax)},
		"lon_min": {formatCoord(bounds.LonMin)},
		"lon_max": {formatCoord(bounds.LonMax)},
	}

	body, err := c.get(ctx, methodSubset, path, query)
	if err != nil {
		return domain.GridSubset{}, err
	}

	var subset domain.GridSubset
	if err := json.Unmarshal(body, &subset); err != nil {
		return domain.GridSubset{}, fmt.Errorf("decode subset: %w", err)
	}
	if subset.Run == "" {
		subset.Run = run
	}
	if subset.Step == "" {
		subset.Step = step
	}
	return subset, nil
}

func (c *Client) get(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doRequest(ctx, method, fullURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.SourceRequests.WithLabelValues(method, "breaker_open").Inc()
			return nil, fmt.Errorf("sti %s: %w: %w", method, domain.ErrSourceUnavailable, err)
		}
		c.metrics.SourceRequests.WithLabelValues(method, "error").Inc()
		c.logger.Warn("sti api request failed", "method", method, "error", err)

		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, fmt.Errorf("sti %s: %w: %w", method, domain.ErrNotFound, err)
		}
		return nil, fmt.Errorf("sti %s: %w", method, err)
	}

	c.metrics.SourceRequests.WithLabelValues(method, "success").Inc()
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, method, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.SourceAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: truncate(strings.TrimSpace(string(body)), 256)}
	}
	return body, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("sti API error: status %d: %s", e.code, e.body)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
