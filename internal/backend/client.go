// Package backend is the REST contract with the monitoring backend.
// Reads go through the retry layer; writes are sent exactly once.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"decoywatch/internal/metrics"
	"decoywatch/internal/retry"
)

const DefaultBaseURL = "http://127.0.0.1:8000/api"

type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRateLimit bounds outgoing requests. A zero limit disables limiting.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(r, burst)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		policy:  retry.DefaultPolicy(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	onRetry := c.policy.OnRetry
	c.policy.OnRetry = func(op string, attempt int, err error, wait time.Duration) {
		metrics.FetchRetries.WithLabelValues(op).Inc()
		c.logger.Debug("retrying read",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		if onRetry != nil {
			onRetry(op, attempt, err, wait)
		}
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// EventStreamURL derives the live channel endpoint from the base URL.
func (c *Client) EventStreamURL() (string, error) {
	return StreamURL(c.baseURL)
}

// StreamURL maps an API base URL to its live channel endpoint:
// http://host/api becomes ws://host/api/ws/events.
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"
	u.RawQuery = ""
	return u.String(), nil
}

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	// An empty body (204, bare DELETE) leaves out untouched.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	metrics.BackendRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.BackendRequests.WithLabelValues(op, outcome).Inc()
}

// get is an idempotent read retried under the client's policy. Client
// errors other than 408/429 are not retried.
func get[T any](ctx context.Context, c *Client, op, path string, query url.Values) (T, error) {
	v, err := retry.Do(ctx, c.policy, op, func(ctx context.Context) (T, error) {
		var out T
		start := time.Now()
		err := c.doRequest(ctx, http.MethodGet, path, query, nil, &out)
		c.observe(op, start, err)

		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return out, retry.Permanent(err)
		}
		return out, err
	})
	if errors.Is(err, retry.ErrFetchExhausted) {
		metrics.FetchExhausted.WithLabelValues(op).Inc()
	}
	return v, err
}

// send is a single, non-retried write.
func send[T any](ctx context.Context, c *Client, op, method, path string, query url.Values, body any) (T, error) {
	var out T
	start := time.Now()
	err := c.doRequest(ctx, method, path, query, body, &out)
	c.observe(op, start, err)
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
