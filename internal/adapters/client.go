package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// backendClient is the retrying JSON client the platform adapters share.
// Exhausting the retry budget is a terminal failure the caller converts to
// a structured error; the raw error never crosses the adapter boundary.
type backendClient struct {
	http    *http.Client
	logger  *slog.Logger
	headers map[string]string
	retries int
	backoff time.Duration
}

func newBackendClient(logger *slog.Logger, headers map[string]string) *backendClient {
	return &backendClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		headers: headers,
		retries: 3,
		backoff: 250 * time.Millisecond,
	}
}

// doJSON sends one JSON request and decodes the JSON response into out (when
// non-nil), retrying transient failures with exponential backoff.
func (c *backendClient) doJSON(ctx context.Context, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	delay := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		lastErr = c.once(ctx, method, url, payload, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		c.logger.Warn("backend call failed, retrying",
			"method", method, "url", url, "attempt", attempt, "error", lastErr)
		if attempt < c.retries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return fmt.Errorf("backend call failed after %d attempts: %w", c.retries, lastErr)
}

func (c *backendClient) once(ctx context.Context, method, url string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transientError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &transientError{fmt.Errorf("backend returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func retryable(err error) bool {
	_, ok := err.(*transientError)
	return ok
}
