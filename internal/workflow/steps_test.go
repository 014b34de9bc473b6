package workflow

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admesh/adcp-sales-agent/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(db.SchemaSQL)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(conn, logger)
}

func TestCreateContext(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	contextID, err := store.CreateContext(ctx, "default", "principal_acme")
	require.NoError(t, err)
	assert.Contains(t, contextID, "ctx_")

	other, err := store.CreateContext(ctx, "default", "principal_acme")
	require.NoError(t, err)
	assert.NotEqual(t, contextID, other)
}

func TestStepRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	contextID, err := store.CreateContext(ctx, "default", "principal_acme")
	require.NoError(t, err)

	req := []byte(`{"buyer_ref":"br_1"}`)
	stepID, err := store.CreateStep(ctx, contextID, "approval", "create_media_buy", req, StatusPending, "publisher")
	require.NoError(t, err)
	assert.Contains(t, stepID, "step_")

	st, err := store.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, stepID, st.StepID)
	assert.Equal(t, contextID, st.ContextID)
	assert.Equal(t, "approval", st.StepType)
	assert.Equal(t, "create_media_buy", st.ToolName)
	assert.Equal(t, req, st.RequestData)
	assert.Empty(t, st.ResponseData)
	assert.Empty(t, st.ErrorMessage)
	assert.Equal(t, StatusPending, st.Status)
	assert.Equal(t, "publisher", st.Owner)
}

func TestGetStepNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetStep(context.Background(), "step_missing")
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestUpdateStep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	contextID, err := store.CreateContext(ctx, "default", "principal_acme")
	require.NoError(t, err)

	stepID, err := store.CreateStep(ctx, contextID, "approval", "update_media_buy", []byte(`{}`), StatusPending, "publisher")
	require.NoError(t, err)

	resp := []byte(`{"status":"accepted"}`)
	require.NoError(t, store.UpdateStep(ctx, stepID, StatusCompleted, resp, ""))

	st, err := store.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, resp, st.ResponseData)
	assert.Empty(t, st.ErrorMessage)
}

func TestUpdateStepFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	contextID, err := store.CreateContext(ctx, "default", "principal_acme")
	require.NoError(t, err)

	stepID, err := store.CreateStep(ctx, contextID, "approval", "create_media_buy", nil, StatusPending, "publisher")
	require.NoError(t, err)

	require.NoError(t, store.UpdateStep(ctx, stepID, StatusFailed, nil, "rejected by reviewer"))

	st, err := store.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "rejected by reviewer", st.ErrorMessage)
}

func TestUpdateStepNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateStep(context.Background(), "step_missing", StatusCompleted, nil, "")
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestListPendingSteps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	contextID, err := store.CreateContext(ctx, "default", "principal_acme")
	require.NoError(t, err)

	first, err := store.CreateStep(ctx, contextID, "approval", "create_media_buy", nil, StatusPending, "publisher")
	require.NoError(t, err)
	second, err := store.CreateStep(ctx, contextID, "approval", "add_creative_assets", nil, StatusPending, "publisher")
	require.NoError(t, err)
	done, err := store.CreateStep(ctx, contextID, "approval", "update_media_buy", nil, StatusPending, "publisher")
	require.NoError(t, err)
	require.NoError(t, store.UpdateStep(ctx, done, StatusCompleted, nil, ""))

	pending, err := store.ListPendingSteps(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	ids := []string{pending[0].StepID, pending[1].StepID}
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, second)
	for _, st := range pending {
		assert.Equal(t, StatusPending, st.Status)
	}
}
