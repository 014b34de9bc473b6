package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// TaskCompletedEvent is the JSON body POSTed to the configured webhook URL
// when an async workflow step auto-completes.
type TaskCompletedEvent struct {
	Event           string    `json:"event"`
	StepID          string    `json:"step_id"`
	PrincipalID     string    `json:"principal_id"`
	Status          string    `json:"status"` // completed|failed
	Approved        bool      `json:"approved"`
	RejectionReason *string   `json:"rejection_reason"`
	Timestamp       time.Time `json:"timestamp"`
}

// Notifier delivers webhook notifications with a small bounded retry.
type Notifier struct {
	client   *http.Client
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
}

// NotifyTaskCompleted POSTs the event to url, retrying with exponential
// backoff. Delivery failure is logged, never propagated: the step transition
// already happened and must not be rolled back over a notification.
func (n *Notifier) NotifyTaskCompleted(ctx context.Context, url string, event TaskCompletedEvent) {
	if url == "" {
		return
	}
	event.Event = "task_completed"

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("marshal webhook event failed", "step_id", event.StepID, "error", err)
		return
	}

	delay := n.backoff
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if err := n.post(ctx, url, body); err == nil {
			n.logger.Info("webhook delivered", "step_id", event.StepID, "url", url, "attempt", attempt)
			return
		} else {
			n.logger.Warn("webhook delivery failed", "step_id", event.StepID, "attempt", attempt, "error", err)
		}
		if attempt < n.attempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
		}
	}
	n.logger.Error("webhook delivery abandoned", "step_id", event.StepID, "url", url)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}
