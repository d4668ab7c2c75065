package filter

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedRequestFilter struct {
	name string
	fn   func(body map[string]any) (Decision, error)
}

func (f *namedRequestFilter) Name() string { return f.name }
func (f *namedRequestFilter) Filter(ctx context.Context, requestID string, body map[string]any, headers http.Header) (Decision, error) {
	return f.fn(body)
}

type namedResponseFilter struct {
	name string
	fn   func(body map[string]any) (map[string]any, error)
}

func (f *namedResponseFilter) Name() string { return f.name }
func (f *namedResponseFilter) Filter(ctx context.Context, requestID string, body map[string]any, headers http.Header) (map[string]any, error) {
	return f.fn(body)
}

func TestChainRunsFiltersInOrder(t *testing.T) {
	var order []string
	chain := NewChain().
		AddRequest(&namedRequestFilter{name: "first", fn: func(map[string]any) (Decision, error) {
			order = append(order, "first")
			return Continue(), nil
		}}).
		AddRequest(&namedRequestFilter{name: "second", fn: func(map[string]any) (Decision, error) {
			order = append(order, "second")
			return Continue(), nil
		}})

	decision := chain.RunRequest(context.Background(), "req", map[string]any{}, nil)
	assert.False(t, decision.IsShortCircuit())
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestChainFirstShortCircuitWins(t *testing.T) {
	secondRan := false
	chain := NewChain().
		AddRequest(&namedRequestFilter{name: "blocker", fn: func(map[string]any) (Decision, error) {
			return ShortCircuit("blocked"), nil
		}}).
		AddRequest(&namedRequestFilter{name: "later", fn: func(map[string]any) (Decision, error) {
			secondRan = true
			return ShortCircuit("other"), nil
		}})

	decision := chain.RunRequest(context.Background(), "req", map[string]any{}, nil)
	require.True(t, decision.IsShortCircuit())
	assert.Equal(t, "blocked", decision.Content())
	assert.False(t, secondRan, "filters after a short-circuit must not run")
}

func TestChainMutationsVisibleDownstream(t *testing.T) {
	chain := NewChain().
		AddRequest(&namedRequestFilter{name: "rewriter", fn: func(body map[string]any) (Decision, error) {
			body["model"] = "gpt-3.5-turbo"
			return Continue(), nil
		}}).
		AddRequest(&namedRequestFilter{name: "observer", fn: func(body map[string]any) (Decision, error) {
			assert.Equal(t, "gpt-3.5-turbo", body["model"])
			return Continue(), nil
		}})

	body := map[string]any{"model": "gpt-4"}
	chain.RunRequest(context.Background(), "req", body, nil)
	assert.Equal(t, "gpt-3.5-turbo", body["model"])
}

func TestChainRecoversFromPanicAndError(t *testing.T) {
	reached := false
	chain := NewChain().
		AddRequest(&namedRequestFilter{name: "panicker", fn: func(map[string]any) (Decision, error) {
			panic("boom")
		}}).
		AddRequest(&namedRequestFilter{name: "failer", fn: func(map[string]any) (Decision, error) {
			return Decision{}, assert.AnError
		}}).
		AddRequest(&namedRequestFilter{name: "survivor", fn: func(map[string]any) (Decision, error) {
			reached = true
			return Continue(), nil
		}})

	decision := chain.RunRequest(context.Background(), "req", map[string]any{}, nil)
	assert.False(t, decision.IsShortCircuit())
	assert.True(t, reached, "a failing filter must act as a pass-through")
}

func TestResponseChainFirstReplacementWins(t *testing.T) {
	secondRan := false
	chain := NewChain().
		AddResponse(&namedResponseFilter{name: "replacer", fn: func(map[string]any) (map[string]any, error) {
			return map[string]any{"replaced": true}, nil
		}}).
		AddResponse(&namedResponseFilter{name: "later", fn: func(map[string]any) (map[string]any, error) {
			secondRan = true
			return nil, nil
		}})

	out := chain.RunResponse(context.Background(), "req", map[string]any{"orig": true}, nil)
	assert.Equal(t, map[string]any{"replaced": true}, out)
	assert.False(t, secondRan)
}

func TestResponseChainPassThrough(t *testing.T) {
	chain := NewChain().
		AddResponse(&namedResponseFilter{name: "noop", fn: func(map[string]any) (map[string]any, error) {
			return nil, nil
		}})

	body := map[string]any{"orig": true}
	out := chain.RunResponse(context.Background(), "req", body, nil)
	assert.Equal(t, body, out)
}

func TestUserFilter(t *testing.T) {
	f := NewUserFilter([]string{"uezo"})
	ctx := context.Background()

	decision, err := f.Filter(ctx, "req", map[string]any{"user": nil}, nil)
	require.NoError(t, err)
	require.True(t, decision.IsShortCircuit())
	assert.Equal(t, "user is required", decision.Content())

	decision, err = f.Filter(ctx, "req", map[string]any{}, nil)
	require.NoError(t, err)
	require.True(t, decision.IsShortCircuit())
	assert.Equal(t, "user is required", decision.Content())

	decision, err = f.Filter(ctx, "req", map[string]any{"user": "uezo"}, nil)
	require.NoError(t, err)
	require.True(t, decision.IsShortCircuit())
	assert.Equal(t, "you can't use this service", decision.Content())

	decision, err = f.Filter(ctx, "req", map[string]any{"user": "someone"}, nil)
	require.NoError(t, err)
	assert.False(t, decision.IsShortCircuit())
}

func TestModelOverrideFilter(t *testing.T) {
	f := NewModelOverrideFilter(map[string]string{"gpt-4": "gpt-3.5-turbo"})
	ctx := context.Background()

	body := map[string]any{"model": "gpt-4"}
	decision, err := f.Filter(ctx, "req", body, nil)
	require.NoError(t, err)
	assert.False(t, decision.IsShortCircuit())
	assert.Equal(t, "gpt-3.5-turbo", body["model"])

	body = map[string]any{"model": "gpt-4o"}
	_, err = f.Filter(ctx, "req", body, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", body["model"])
}

func TestAPIKeyFilter(t *testing.T) {
	hash, err := HashKey("secret-key")
	require.NoError(t, err)

	f := NewAPIKeyFilter([]string{hash})
	ctx := context.Background()

	headers := http.Header{}
	headers.Set(KeyHeader, "secret-key")
	decision, err := f.Filter(ctx, "req", nil, headers)
	require.NoError(t, err)
	assert.False(t, decision.IsShortCircuit())

	headers.Set(KeyHeader, "wrong-key")
	decision, err = f.Filter(ctx, "req", nil, headers)
	require.NoError(t, err)
	require.True(t, decision.IsShortCircuit())
	assert.Equal(t, "invalid api key", decision.Content())

	decision, err = f.Filter(ctx, "req", nil, http.Header{})
	require.NoError(t, err)
	assert.True(t, decision.IsShortCircuit())
}
