package filter

import (
	"context"
	"net/http"
)

// UserFilter enforces that requests identify their end user and rejects
// banned ones. Both rejections are completed replies, not HTTP errors: the
// caller's client keeps working and the exchange is logged like any other.
type UserFilter struct {
	banned map[string]bool
}

// NewUserFilter creates a filter rejecting requests without a user field
// and requests from the banned users.
func NewUserFilter(banned []string) *UserFilter {
	m := make(map[string]bool, len(banned))
	for _, u := range banned {
		m[u] = true
	}
	return &UserFilter{banned: m}
}

func (f *UserFilter) Name() string { return "user-policy" }

func (f *UserFilter) Filter(ctx context.Context, requestID string, body map[string]any, headers http.Header) (Decision, error) {
	user, _ := body["user"].(string)
	if user == "" {
		return ShortCircuit("user is required"), nil
	}
	if f.banned[user] {
		return ShortCircuit("you can't use this service"), nil
	}
	return Continue(), nil
}
