// Package httpclient provides the cancellable, retrying POST primitive the
// provider clients are built on. Requests can run with a cooperative
// interruption monitor: the call returns the moment the monitor trips, even
// if the underlying transfer has not unwound yet.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Monitor reports user-initiated interruption. Implementations must be safe
// for concurrent use; ShouldInterrupt is polled from the request goroutine.
type Monitor interface {
	ShouldInterrupt() bool
}

// Response is the fully drained result of a completed HTTP exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Result describes the outcome of a call. Exactly one of the three
// conditions holds: Response is set, Err is set, or Interrupted is true.
type Result struct {
	Response    *Response
	Err         error
	Interrupted bool
}

// Success reports whether the transport exchange completed. The HTTP status
// code may still describe an error; interpreting it is the caller's concern.
func (r Result) Success() bool {
	return r.Response != nil
}

func success(resp *Response) Result { return Result{Response: resp} }
func failure(err error) Result      { return Result{Err: err} }
func interrupted() Result           { return Result{Interrupted: true} }

// RetryPolicy controls which responses are retried and how long to wait
// between attempts. It is constant at runtime; build one and share it.
type RetryPolicy struct {
	MaxRetries           int
	RetryableStatusCodes map[int]bool
	RetryDelays          []time.Duration
}

// DefaultRetryPolicy retries rate limits and upstream outages with
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:           3,
		RetryableStatusCodes: map[int]bool{http.StatusTooManyRequests: true, http.StatusServiceUnavailable: true},
		RetryDelays:          []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// Delay returns the wait before the next attempt. A parseable non-negative
// Retry-After header takes precedence over the schedule; past the end of the
// schedule the last entry repeats.
func (p RetryPolicy) Delay(resp *Response, attempt int) time.Duration {
	if resp != nil {
		if raw := resp.Header.Get("Retry-After"); raw != "" {
			if secs, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && secs >= 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	if len(p.RetryDelays) == 0 {
		return 0
	}
	idx := attempt
	if idx >= len(p.RetryDelays) {
		idx = len(p.RetryDelays) - 1
	}
	return p.RetryDelays[idx]
}

// defaultPollInterval is how often the monitor is checked while a request or
// retry delay is in flight.
const defaultPollInterval = 10 * time.Millisecond

// Client posts JSON payloads to a single endpoint.
type Client struct {
	httpClient   *http.Client
	endpoint     string
	headers      map[string]string
	logger       *log.Logger
	pollInterval time.Duration
}

// NewClient configures a client for the given endpoint. The headers map is
// applied to every request; timeout covers the whole exchange.
func NewClient(endpoint string, headers map[string]string, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		endpoint:     strings.TrimRight(endpoint, "/"),
		headers:      headers,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// Post executes one POST of the JSON-encoded payload.
//
// With a nil monitor the request runs synchronously on the calling goroutine
// and no goroutine is spawned. With a monitor, the request runs on a worker
// goroutine bound to a cancellable context while the caller waits on either
// completion or the monitor tripping; on interruption the request context is
// cancelled to force the connection closed and Interrupted is returned
// immediately, without waiting for the worker to unwind.
func (c *Client) Post(ctx context.Context, payload any, monitor Monitor) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Errorf("marshal payload: %w", err))
	}

	if monitor == nil {
		return c.roundTrip(ctx, body)
	}

	if monitor.ShouldInterrupt() {
		return interrupted()
	}

	reqCtx, cancel := context.WithCancel(ctx)
	results := make(chan Result, 1)
	go func() {
		results <- c.roundTrip(reqCtx, body)
	}()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case res := <-results:
			cancel()
			return res
		case <-ticker.C:
			if monitor.ShouldInterrupt() {
				cancel()
				return interrupted()
			}
		case <-ctx.Done():
			cancel()
			return interrupted()
		}
	}
}

// PostWithRetry wraps Post in a bounded retry loop governed by policy.
// Interruption and transport failures return immediately; only responses
// whose status is in the retryable set are retried, and once attempts are
// exhausted the last such response is returned as-is.
func (c *Client) PostWithRetry(ctx context.Context, payload any, policy RetryPolicy, monitor Monitor) Result {
	for attempt := 0; ; attempt++ {
		res := c.Post(ctx, payload, monitor)
		if res.Interrupted || res.Err != nil {
			return res
		}

		status := res.Response.StatusCode
		if !policy.RetryableStatusCodes[status] {
			return res
		}
		if attempt >= policy.MaxRetries {
			c.logger.Printf("[http] %d from %s, exhausted %d retries", status, c.endpoint, policy.MaxRetries)
			return res
		}

		delay := policy.Delay(res.Response, attempt)
		c.logger.Printf("[http] %d from %s, retrying in %s (attempt %d/%d)",
			status, c.endpoint, delay, attempt+1, policy.MaxRetries)
		if c.waitInterrupted(ctx, delay, monitor) {
			return interrupted()
		}
	}
}

// roundTrip performs the exchange and drains the body so the result owns no
// live connection state.
func (c *Client) roundTrip(ctx context.Context, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted()
		}
		return failure(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted()
		}
		return failure(fmt.Errorf("read response: %w", err))
	}
	return success(&Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data})
}

// waitInterrupted sleeps for the retry delay, returning true early if the
// monitor trips or the context is cancelled during the wait.
func (c *Client) waitInterrupted(ctx context.Context, delay time.Duration, monitor Monitor) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	if monitor == nil {
		select {
		case <-timer.C:
			return false
		case <-ctx.Done():
			return true
		}
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-timer.C:
			return false
		case <-ticker.C:
			if monitor.ShouldInterrupt() {
				return true
			}
		case <-ctx.Done():
			return true
		}
	}
}
