// Package transport provides the retrying HTTP client used for every
// upstream call. Retries cover network failures and 5xx responses only;
// a 4xx is a definitive rejection and is returned as-is.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxAttempts bounds the retry loop.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is multiplied by the attempt number between retries.
	DefaultBaseDelay = time.Second

	// DefaultTimeout is the per-attempt request timeout.
	DefaultTimeout = 30 * time.Second
)

// Error is returned when all attempts were exhausted without a usable
// response. It is distinguishable from an application-level rejection,
// which comes back as a regular *http.Response.
type Error struct {
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream unreachable after %d attempts: %v", e.Attempts, e.Last)
}

func (e *Error) Unwrap() error { return e.Last }

// Request describes one upstream HTTP exchange. The body is held as a
// byte slice so every retry attempt can replay it.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Client is a retrying HTTP client.
type Client struct {
	log         logrus.FieldLogger
	http        *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

// Config tunes the retry behaviour. Zero fields fall back to defaults.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// New creates a Client. Keep-alives are disabled: pooled connections go
// stale in containerized deployments and surface as spurious resets.
func New(log logrus.FieldLogger, cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		log: log.WithField("component", "transport"),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}
}

// Do performs the request, retrying on network errors and 5xx responses
// with a delay of baseDelay times the attempt number. The last 5xx
// response body is closed before retrying; the caller owns the body of
// the returned response.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &Error{Attempts: attempt - 1, Last: ctx.Err()}
			case <-time.After(c.baseDelay * time.Duration(attempt-1)):
			}
		}

		httpReq, err := http.NewRequestWithContext(
			ctx, req.Method, req.URL, bytes.NewReader(req.Body),
		)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}

		for k, vs := range req.Header {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = err

			c.log.WithError(err).
				WithField("url", req.URL).
				WithField("attempt", attempt).
				Debug("Request failed")

			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			resp.Body.Close()

			c.log.WithField("url", req.URL).
				WithField("status", resp.StatusCode).
				WithField("attempt", attempt).
				Debug("Server error, retrying")

			continue
		}

		return resp, nil
	}

	return nil, &Error{Attempts: c.maxAttempts, Last: lastErr}
}
