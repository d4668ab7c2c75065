package filter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"aiproxy/internal/storage"
)

// ReplayHeader names the request header that triggers a replay. Its value
// is the request id of a previously proxied exchange.
const ReplayHeader = "X-AIProxy-Replay-Request-Id"

// ReplayFilter serves the recorded response for a past request without
// touching the upstream. A replayed exchange is logged like any other, so
// replaying is itself replayable.
type ReplayFilter struct {
	repo *storage.AccessLogRepository
}

// NewReplayFilter creates a replay filter reading from the access log store.
func NewReplayFilter(repo *storage.AccessLogRepository) *ReplayFilter {
	return &ReplayFilter{repo: repo}
}

func (f *ReplayFilter) Name() string { return "replay" }

// Filter short-circuits with the content of the most recent response row
// recorded for the id named in the replay header. Requests without the
// header pass through untouched.
func (f *ReplayFilter) Filter(ctx context.Context, requestID string, body map[string]any, headers http.Header) (Decision, error) {
	replayID := headers.Get(ReplayHeader)
	if replayID == "" {
		return Continue(), nil
	}

	row, err := f.repo.LatestResponse(ctx, replayID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ShortCircuit("request not found"), nil
		}
		return Continue(), fmt.Errorf("failed to load response for replay: %w", err)
	}
	return ShortCircuit(row.Content), nil
}
