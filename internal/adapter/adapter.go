// Package adapter contains the per-provider knowledge of the proxy: how to
// build the upstream request, how to detect streaming intent, how to
// synthesize a provider-shaped reply for a short-circuiting filter, and how
// to map raw exchanges to access log rows.
package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"aiproxy/internal/models"
)

// ErrStreamSynthesisUnsupported is returned by adapters whose wire format
// cannot carry a synthesized stream (Bedrock's binary event stream).
var ErrStreamSynthesisUnsupported = errors.New("adapter cannot synthesize a streamed reply")

// Session carries the state of one proxied exchange from parse to log.
type Session struct {
	RequestID string
	Method    string
	Path      string

	// RawBody is the request exactly as the client sent it; it never
	// reflects filter mutations.
	RawBody []byte
	// Body is the parsed request that filters mutate and the adapter
	// serializes toward the upstream.
	Body    map[string]any
	Headers http.Header

	Stream bool
	Model  string

	Start    time.Time
	StartAPI time.Time

	Status      int
	RespHeaders http.Header
	// RespBody is the final non-streaming response body (after response
	// filters, or the synthesized short-circuit reply).
	RespBody []byte
	// StreamBody accumulates the raw bytes relayed to a streaming client.
	StreamBody []byte

	// ExtraFields, when set on the route, derives values for extra schema
	// columns from each logged payload.
	ExtraFields models.ExtraFieldsFunc
}

// NewSession starts a session for an inbound request.
func NewSession(r *http.Request) *Session {
	now := time.Now()
	return &Session{
		RequestID: uuid.NewString(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   r.Header,
		Start:     now,
		StartAPI:  now,
	}
}

// Duration returns seconds since the request arrived.
func (s *Session) Duration() float64 {
	return time.Since(s.Start).Seconds()
}

// DurationAPI returns seconds since the upstream call started.
func (s *Session) DurationAPI() float64 {
	return time.Since(s.StartAPI).Seconds()
}

func (s *Session) extra(direction string, rawBody []byte, headers map[string]string) map[string]any {
	if s.ExtraFields == nil {
		return nil
	}
	return s.ExtraFields(direction, rawBody, headers)
}

// Adapter is the per-provider strategy consulted by the router.
type Adapter interface {
	Name() string

	// ParseRequest derives streaming intent and the model identity from the
	// parsed body and the request path. Streaming intent comes only from
	// what the client declared, never from sniffing the response.
	ParseRequest(s *Session) error

	// UpstreamRequest builds the authenticated request for the provider.
	UpstreamRequest(ctx context.Context, s *Session) (*http.Request, error)

	// SynthesizeResponse renders a completed, zero-usage reply carrying
	// content, shaped like the provider's own response.
	SynthesizeResponse(content string) []byte

	// SynthesizeStream renders the same reply as wire-ready stream frames.
	SynthesizeStream(content string) ([][]byte, error)

	RequestItem(s *Session) models.LogItem
	ResponseItem(s *Session) models.LogItem
	StreamItem(s *Session) models.LogItem
	ErrorItem(s *Session, err error) models.LogItem
}

// Headers that must not travel from the client connection to the upstream
// one, plus headers whose values the proxy replaces.
var skipUpstreamHeaders = map[string]bool{
	"host":            true,
	"content-length":  true,
	"connection":      true,
	"accept-encoding": true,
	"authorization":   true,
	"x-api-key":       true,
	"api-key":         true,
}

// UpstreamHeaders copies client headers onto the upstream request, dropping
// hop-by-hop headers and client credentials. The adapter adds its own
// credential afterwards.
func UpstreamHeaders(s *Session) http.Header {
	h := make(http.Header, len(s.Headers))
	for name, values := range s.Headers {
		if skipUpstreamHeaders[strings.ToLower(name)] {
			continue
		}
		h[name] = values
	}
	return h
}

// sseFrame frames one JSON chunk as a server-sent event.
func sseFrame(data []byte) []byte {
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
