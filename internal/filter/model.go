package filter

import (
	"context"
	"net/http"
)

// ModelOverrideFilter rewrites requested models in place. Downstream
// filters, the upstream call and the request log all see the replacement.
type ModelOverrideFilter struct {
	overrides map[string]string
}

// NewModelOverrideFilter creates a filter applying the given replacements.
func NewModelOverrideFilter(overrides map[string]string) *ModelOverrideFilter {
	return &ModelOverrideFilter{overrides: overrides}
}

func (f *ModelOverrideFilter) Name() string { return "model-override" }

func (f *ModelOverrideFilter) Filter(ctx context.Context, requestID string, body map[string]any, headers http.Header) (Decision, error) {
	if model, ok := body["model"].(string); ok {
		if replacement := f.overrides[model]; replacement != "" {
			body["model"] = replacement
		}
	}
	return Continue(), nil
}
