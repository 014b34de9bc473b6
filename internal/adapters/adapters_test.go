package adapters

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/auth"
)

func testPrincipal() *auth.Principal {
	return &auth.Principal{
		PrincipalID: "principal_test",
		Name:        "Test Buyer",
		PlatformMappings: map[string]map[string]string{
			"mock":   {"advertiser_id": "10001"},
			"kevel":  {"advertiser_id": "20001"},
			"triton": {"advertiser_id": "TR-2001"},
			"gam":    {"advertiser_id": "30001"},
			"xandr":  {"advertiser_id": "40001"},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubWorkflow records pending steps and their transitions in memory.
type stubWorkflow struct {
	mu       sync.Mutex
	contexts int
	steps    []stubStep
	failNext bool
}

type stubStep struct {
	StepID   string
	ToolName string
	Status   string
	ErrorMsg string
}

func (w *stubWorkflow) CreateContext(ctx context.Context, tenantID, principalID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failNext {
		return "", fmt.Errorf("workflow store unavailable")
	}
	w.contexts++
	return fmt.Sprintf("ctx_%d", w.contexts), nil
}

func (w *stubWorkflow) CreateStep(ctx context.Context, contextID, stepType, toolName string, requestData []byte, status, owner string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	stepID := fmt.Sprintf("step_%d", len(w.steps)+1)
	w.steps = append(w.steps, stubStep{StepID: stepID, ToolName: toolName, Status: status})
	return stepID, nil
}

func (w *stubWorkflow) UpdateStep(ctx context.Context, stepID, status string, responseData []byte, errorMessage string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.steps {
		if w.steps[i].StepID == stepID {
			w.steps[i].Status = status
			w.steps[i].ErrorMsg = errorMessage
			return nil
		}
	}
	return fmt.Errorf("step %s not found", stepID)
}

func (w *stubWorkflow) step(stepID string) (stubStep, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return stubStep{}, false
}

// stubWebhooks signals each delivery on a channel so tests can wait for the
// detached auto-complete worker.
type stubWebhooks struct {
	events chan TaskEvent
}

func newStubWebhooks() *stubWebhooks {
	return &stubWebhooks{events: make(chan TaskEvent, 4)}
}

func (w *stubWebhooks) NotifyTaskCompleted(ctx context.Context, url string, event TaskEvent) {
	w.events <- event
}

// stubBudgets records persisted package budgets.
type stubBudgets struct {
	mu    sync.Mutex
	saved map[string]float64
	err   error
}

func (b *stubBudgets) SavePackageBudget(ctx context.Context, mediaBuyID, packageID string, budget float64) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saved == nil {
		b.saved = make(map[string]float64)
	}
	b.saved[mediaBuyID+"/"+packageID] = budget
	return nil
}

// sleepRecorder replaces time.Sleep so delay handling is observable without
// real waiting.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slept = append(r.slept, d)
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.slept))
	copy(out, r.slept)
	return out
}
