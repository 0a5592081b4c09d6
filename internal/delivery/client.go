// Package delivery posts relay payloads to webhook endpoints with bounded
// concurrency, per-endpoint pacing and linear-backoff retry.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/tgrelay/internal/tracing"
)

// Client defaults.
const (
	DefaultTimeout       = 15 * time.Second
	DefaultBackoffUnit   = time.Second
	DefaultMaxConcurrent = 5
	DefaultMaxAttempts   = 3

	maxErrorBody = 1024
)

// ErrDeliveryFailed is returned when every attempt of SendWithRetry failed.
var ErrDeliveryFailed = errors.New("delivery failed")

// StatusError is a non-success HTTP response from an endpoint.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration // set on 429 responses
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.Code, e.Body)
}

// Options configures a Client.
type Options struct {
	Timeout       time.Duration // bound of a single attempt
	BackoffUnit   time.Duration // retry n sleeps n*BackoffUnit
	MaxConcurrent int           // process-wide in-flight attempts
	EndpointRate  rate.Limit
	EndpointBurst int
	HTTPClient    *http.Client
}

// Client delivers payloads. A single Client is shared by all workers.
type Client struct {
	http    *http.Client
	timeout time.Duration
	backoff time.Duration
	sem     *semaphore.Weighted
	limiter *endpointLimiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = DefaultBackoffUnit
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		http:    hc,
		timeout: opts.Timeout,
		backoff: opts.BackoffUnit,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		limiter: newEndpointLimiter(opts.EndpointRate, opts.EndpointBurst),
		sleep:   sleepCtx,
	}
}

// Send performs a single delivery attempt. The payload is clamped first.
func (c *Client) Send(ctx context.Context, endpoint string, p Payload) error {
	body, err := json.Marshal(p.Clamp())
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	serr := &StatusError{Code: resp.StatusCode, Body: string(raw)}
	if resp.StatusCode == http.StatusTooManyRequests {
		serr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"), raw)
	}
	slog.Warn("webhook rejected payload", "status", resp.StatusCode, "body", serr.Body)
	return serr
}

// SendWithRetry calls Send up to maxAttempts times, sleeping attempt*unit
// between attempts. A 429 response stretches the sleep to its Retry-After.
func (c *Client) SendWithRetry(ctx context.Context, endpoint string, p Payload, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	ctx, span := tracing.StartSpan(ctx, "delivery.send",
		attribute.Int("delivery.max_attempts", maxAttempts))
	defer span.End()

	var err error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		if err = c.Send(ctx, endpoint, p); err == nil {
			span.SetAttributes(attribute.Int("delivery.attempts", attempt))
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt == maxAttempts {
			break
		}

		wait := time.Duration(attempt) * c.backoff
		var serr *StatusError
		if errors.As(err, &serr) && serr.RetryAfter > wait {
			wait = serr.RetryAfter
		}
		slog.Debug("delivery attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if c.sleep(ctx, wait) != nil {
			break
		}
	}
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, attempts, err)
}

// retryAfter reads the back-off of a 429 from the Retry-After header or the
// JSON "retry_after" field, both in (possibly fractional) seconds.
func retryAfter(header string, body []byte) time.Duration {
	secs, err := strconv.ParseFloat(header, 64)
	if err != nil || secs <= 0 {
		var v struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if json.Unmarshal(body, &v) != nil || v.RetryAfter <= 0 {
			return 0
		}
		secs = v.RetryAfter
	}
	return time.Duration(math.Ceil(secs * float64(time.Second)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
