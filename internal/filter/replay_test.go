package filter

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiproxy/internal/models"
	"aiproxy/internal/storage"
)

func replayRepo(t *testing.T) (*storage.AccessLogRepository, *storage.DB) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := storage.DefaultSchema()
	require.NoError(t, storage.EnsureSchema(context.Background(), db, schema))
	return storage.NewAccessLogRepository(db, schema), db
}

func TestReplayFilterServesRecordedResponse(t *testing.T) {
	repo, db := replayRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, db.Conn(), &models.AccessLog{
		RequestID: "req-replay",
		CreatedAt: time.Now().UTC(),
		Direction: models.DirectionResponse,
		Content:   "recorded answer",
	}))

	f := NewReplayFilter(repo)
	headers := http.Header{}
	headers.Set(ReplayHeader, "req-replay")

	decision, err := f.Filter(ctx, "new-req", map[string]any{}, headers)
	require.NoError(t, err)
	require.True(t, decision.IsShortCircuit())
	assert.Equal(t, "recorded answer", decision.Content())
}

func TestReplayFilterUnknownID(t *testing.T) {
	repo, _ := replayRepo(t)
	f := NewReplayFilter(repo)
	headers := http.Header{}
	headers.Set(ReplayHeader, "no-such-id")

	decision, err := f.Filter(context.Background(), "new-req", map[string]any{}, headers)
	require.NoError(t, err)
	require.True(t, decision.IsShortCircuit())
	assert.Equal(t, "request not found", decision.Content())
}

func TestReplayFilterWithoutHeaderPassesThrough(t *testing.T) {
	repo, _ := replayRepo(t)
	f := NewReplayFilter(repo)

	decision, err := f.Filter(context.Background(), "new-req", map[string]any{}, http.Header{})
	require.NoError(t, err)
	assert.False(t, decision.IsShortCircuit())
}
