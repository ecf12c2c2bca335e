package httpclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultTimeout     = 30 * time.Second
	maxBackoff         = 5 * time.Second
)

// Client wraps http.Client with bounded timeouts and capped exponential
// backoff. Only 5xx responses and transport errors are retried; 4xx responses
// are returned to the caller immediately.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	maxAttempts int
}

func New(logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
}

// Do executes the request, retrying on 5xx and transport errors. The request
// must have been created with a body-less constructor or a rewindable body;
// callers here only issue GETs.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	l := c.logger.With(slog.String("method", req.Method), slog.String("url", req.URL.Redacted()))

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			// Do not retry past a cancelled or expired context.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request aborted: %w", ctx.Err())
			}
			lastErr = err
			l.WarnContext(ctx, "Request attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", c.maxAttempts),
				slog.Any("error", err),
			)
		} else {
			if resp.StatusCode < http.StatusInternalServerError {
				return resp, nil
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			l.WarnContext(ctx, "Request attempt returned server error",
				slog.Int("attempt", attempt),
				slog.Int("status", resp.StatusCode),
			)
		}

		if attempt < c.maxAttempts {
			delay := min(time.Second<<(attempt-1), maxBackoff)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("request aborted: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxAttempts, lastErr)
}
