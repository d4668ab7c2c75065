// Package filter implements the request/response filter chain. Filters are
// pure capability objects invoked around the upstream call; a request
// filter may short-circuit the exchange entirely by returning a reply of
// its own.
package filter

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Decision is the tagged result of a request filter: either continue down
// the chain or short-circuit with a synthesized reply.
type Decision struct {
	shortCircuit bool
	content      string
}

// Continue lets the chain proceed.
func Continue() Decision {
	return Decision{}
}

// ShortCircuit skips the upstream call and replies with content, formatted
// by the active adapter as a completed message with zero usage.
func ShortCircuit(content string) Decision {
	return Decision{shortCircuit: true, content: content}
}

// IsShortCircuit reports whether the decision ends the exchange.
func (d Decision) IsShortCircuit() bool {
	return d.shortCircuit
}

// Content returns the synthesized reply text for a short-circuit decision.
func (d Decision) Content() string {
	return d.content
}

// RequestFilter inspects or mutates a parsed request before the upstream
// call. Mutations to body are visible to later filters and to the adapter.
type RequestFilter interface {
	Name() string
	Filter(ctx context.Context, requestID string, body map[string]any, headers http.Header) (Decision, error)
}

// ResponseFilter rewrites a parsed non-streaming response. Returning a
// non-nil body replaces the response and ends the chain; nil continues.
//
// Response filters never run for streamed replies: the chunks have already
// left for the client by the time the full body exists.
type ResponseFilter interface {
	Name() string
	Filter(ctx context.Context, requestID string, body map[string]any, headers http.Header) (map[string]any, error)
}

// Chain is an ordered set of request and response filters. Ordering is
// fixed at registration time and identical for every request on the route.
type Chain struct {
	requestFilters  []RequestFilter
	responseFilters []ResponseFilter
	log             zerolog.Logger
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{log: log.With().Str("component", "filter-chain").Logger()}
}

// AddRequest appends a request filter.
func (c *Chain) AddRequest(f RequestFilter) *Chain {
	c.requestFilters = append(c.requestFilters, f)
	c.log.Info().Str("filter", f.Name()).Msg("request filter registered")
	return c
}

// AddResponse appends a response filter.
func (c *Chain) AddResponse(f ResponseFilter) *Chain {
	c.responseFilters = append(c.responseFilters, f)
	c.log.Info().Str("filter", f.Name()).Msg("response filter registered")
	return c
}

// RunRequest invokes request filters in registration order. The first
// short-circuit stops the chain. A filter that errors or panics is treated
// as a no-op for this request; the failure goes to the log, never to the
// caller.
func (c *Chain) RunRequest(ctx context.Context, requestID string, body map[string]any, headers http.Header) Decision {
	for _, f := range c.requestFilters {
		decision, err := c.runRequestFilter(ctx, f, requestID, body, headers)
		if err != nil {
			c.log.Error().Err(err).Str("filter", f.Name()).Str("request_id", requestID).
				Msg("request filter failed, treating as pass-through")
			continue
		}
		if decision.IsShortCircuit() {
			return decision
		}
	}
	return Continue()
}

func (c *Chain) runRequestFilter(ctx context.Context, f RequestFilter, requestID string, body map[string]any, headers http.Header) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = Continue()
			err = &panicError{filter: f.Name(), value: r}
		}
	}()
	return f.Filter(ctx, requestID, body, headers)
}

// RunResponse invokes response filters in registration order and returns
// the (possibly replaced) body. The first filter returning a replacement
// ends the chain.
func (c *Chain) RunResponse(ctx context.Context, requestID string, body map[string]any, headers http.Header) map[string]any {
	for _, f := range c.responseFilters {
		replaced, err := c.runResponseFilter(ctx, f, requestID, body, headers)
		if err != nil {
			c.log.Error().Err(err).Str("filter", f.Name()).Str("request_id", requestID).
				Msg("response filter failed, treating as pass-through")
			continue
		}
		if replaced != nil {
			return replaced
		}
	}
	return body
}

func (c *Chain) runResponseFilter(ctx context.Context, f ResponseFilter, requestID string, body map[string]any, headers http.Header) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &panicError{filter: f.Name(), value: r}
		}
	}()
	return f.Filter(ctx, requestID, body, headers)
}
