package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Step statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Step is one durable unit of human-approval work created when an operation
// is gated behind manual approval or async HITL.
type Step struct {
	StepID       string
	ContextID    string
	StepType     string
	ToolName     string
	RequestData  []byte
	ResponseData []byte
	ErrorMessage string
	Status       string
	Owner        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var ErrStepNotFound = errors.New("workflow step not found")

// Store persists contexts and workflow steps in SQLite. A Store is safe for
// concurrent use; background completion workers re-acquire it rather than
// borrowing a request-scoped handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// CreateContext records a conversation context for a tenant/principal pair
// and returns its ID.
func (s *Store) CreateContext(ctx context.Context, tenantID, principalID string) (string, error) {
	contextID := "ctx_" + uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contexts (context_id, tenant_id, principal_id) VALUES (?, ?, ?)`,
		contextID, tenantID, principalID)
	if err != nil {
		s.logger.Error("insert context error", "error", err)
		return "", fmt.Errorf("failed to create context: %w", err)
	}
	return contextID, nil
}

// CreateStep records a workflow step and returns its ID.
func (s *Store) CreateStep(ctx context.Context, contextID, stepType, toolName string, requestData []byte, status, owner string) (string, error) {
	stepID := "step_" + uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_steps (step_id, context_id, step_type, tool_name, request_data, status, owner)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stepID, contextID, stepType, toolName, string(requestData), status, owner)
	if err != nil {
		s.logger.Error("insert workflow step error", "error", err)
		return "", fmt.Errorf("failed to create workflow step: %w", err)
	}
	return stepID, nil
}

// UpdateStep transitions a step to a new status, attaching response data or
// an error message.
func (s *Store) UpdateStep(ctx context.Context, stepID, status string, responseData []byte, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_steps
		 SET status = ?, response_data = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE step_id = ?`,
		status, string(responseData), errorMessage, stepID)
	if err != nil {
		s.logger.Error("update workflow step error", "step_id", stepID, "error", err)
		return fmt.Errorf("failed to update workflow step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStepNotFound
	}
	return nil
}

// GetStep loads one step by ID.
func (s *Store) GetStep(ctx context.Context, stepID string) (*Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT step_id, context_id, step_type, tool_name,
		        COALESCE(request_data, ''), COALESCE(response_data, ''),
		        COALESCE(error_message, ''), status, COALESCE(owner, '')
		 FROM workflow_steps WHERE step_id = ?`, stepID)

	var st Step
	var reqData, respData string
	err := row.Scan(&st.StepID, &st.ContextID, &st.StepType, &st.ToolName,
		&reqData, &respData, &st.ErrorMessage, &st.Status, &st.Owner)
	if err == sql.ErrNoRows {
		return nil, ErrStepNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow step: %w", err)
	}
	st.RequestData = []byte(reqData)
	st.ResponseData = []byte(respData)
	return &st, nil
}

// ListPendingSteps returns all steps currently awaiting completion.
func (s *Store) ListPendingSteps(ctx context.Context) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, context_id, step_type, tool_name, status, COALESCE(owner, '')
		 FROM workflow_steps WHERE status = ? ORDER BY created_at`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.StepID, &st.ContextID, &st.StepType, &st.ToolName, &st.Status, &st.Owner); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}
