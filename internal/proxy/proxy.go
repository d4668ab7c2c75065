// Package proxy is the HTTP front of the gateway: it routes provider paths
// to their adapters, runs the filter chain, relays upstream replies and
// feeds the access log queue. Logging never blocks or fails a request.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aiproxy/internal/adapter"
	"aiproxy/internal/filter"
	"aiproxy/internal/models"
	"aiproxy/internal/queue"
)

// RequestIDHeader carries the correlation id of the exchange back to the
// client on every reply, including errors.
const RequestIDHeader = "X-AIProxy-Request-Id"

// Route binds an adapter to its filter chain and optional extra log fields.
type Route struct {
	Adapter     adapter.Adapter
	Filters     *filter.Chain
	ExtraFields models.ExtraFieldsFunc
}

// Router dispatches provider routes and the passthrough catch-alls.
type Router struct {
	mux     *http.ServeMux
	queue   queue.Queue
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// NewRouter creates a router whose upstream calls time out after timeout.
// The timeout bounds connection setup and time to response headers only;
// once a streamed body is flowing, the relay runs until EOF or the client
// disconnects. Client.Timeout would cut healthy long-lived streams mid-relay.
func NewRouter(q queue.Queue, timeout time.Duration) *Router {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &Router{
		mux:     http.NewServeMux(),
		queue:   q,
		client:  &http.Client{Transport: transport},
		timeout: timeout,
		log:     log.With().Str("component", "proxy").Logger(),
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

// Handle mounts a chat route at pattern.
func (rt *Router) Handle(pattern string, route *Route) {
	if route.Filters == nil {
		route.Filters = filter.NewChain()
	}
	rt.mux.HandleFunc("POST "+pattern, rt.chatHandler(route))
	rt.log.Info().Str("pattern", pattern).Str("adapter", route.Adapter.Name()).Msg("route mounted")
}

// enqueue hands an item to the log queue. The request context is not used:
// a finished or disconnected request must still get its log rows.
func (rt *Router) enqueue(item models.LogItem) {
	if err := rt.queue.Enqueue(context.Background(), item); err != nil {
		rt.log.Error().Err(err).Msg("failed to enqueue access log item")
	}
}

func errorBody(message, errType string) []byte {
	b, _ := json.Marshal(map[string]any{
		"error": map[string]any{"message": message, "type": errType, "param": nil, "code": nil},
	})
	return b
}

// writeError replies with a proxy-generated error and records the error row.
func (rt *Router) writeError(w http.ResponseWriter, a adapter.Adapter, s *adapter.Session, status int, err error, errType string) {
	rt.log.Error().Err(err).Str("request_id", s.RequestID).Str("type", errType).Msg("request failed")

	s.Status = status
	s.RespBody = errorBody(err.Error(), errType)
	rt.enqueue(a.ErrorItem(s, err))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RequestIDHeader, s.RequestID)
	w.WriteHeader(status)
	w.Write(s.RespBody)
}

// Response headers that must not be relayed: lengths and encodings no
// longer match the rewritten body, and cached replies would skip logging.
var skipResponseHeaders = map[string]bool{
	"date":             true,
	"content-length":   true,
	"content-encoding": true,
	"cache-control":    true,
}

func (rt *Router) copyResponseHeaders(w http.ResponseWriter, s *adapter.Session) {
	for name, values := range s.RespHeaders {
		if skipResponseHeaders[strings.ToLower(name)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(RequestIDHeader, s.RequestID)
}

func (rt *Router) chatHandler(route *Route) http.HandlerFunc {
	a := route.Adapter
	return func(w http.ResponseWriter, r *http.Request) {
		s := adapter.NewSession(r)
		s.ExtraFields = route.ExtraFields

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			rt.writeError(w, a, s, http.StatusBadRequest, fmt.Errorf("failed to read request body: %w", err), "invalid_request_error")
			return
		}
		s.RawBody = raw
		if err := json.Unmarshal(raw, &s.Body); err != nil {
			rt.writeError(w, a, s, http.StatusBadRequest, fmt.Errorf("request body is not valid JSON: %w", err), "invalid_request_error")
			return
		}
		if err := a.ParseRequest(s); err != nil {
			rt.writeError(w, a, s, http.StatusBadRequest, err, "invalid_request_error")
			return
		}

		decision := route.Filters.RunRequest(r.Context(), s.RequestID, s.Body, s.Headers)

		// Filters may have rewritten the body; re-derive model and stream
		// intent so the log reflects what actually goes upstream.
		if err := a.ParseRequest(s); err != nil {
			rt.writeError(w, a, s, http.StatusBadRequest, err, "invalid_request_error")
			return
		}
		rt.enqueue(a.RequestItem(s))

		if decision.IsShortCircuit() {
			rt.synthesize(w, a, s, decision.Content())
			return
		}
		rt.forward(w, r, route, s)
	}
}

// synthesize replies on behalf of a short-circuiting filter, shaped like
// the provider's own response, and logs it as the exchange's response row.
func (rt *Router) synthesize(w http.ResponseWriter, a adapter.Adapter, s *adapter.Session, content string) {
	s.RespBody = a.SynthesizeResponse(content)
	s.Status = http.StatusOK

	if s.Stream {
		frames, err := a.SynthesizeStream(content)
		if errors.Is(err, adapter.ErrStreamSynthesisUnsupported) {
			s.Status = http.StatusBadRequest
			rt.log.Warn().Str("adapter", a.Name()).
				Msg("adapter cannot stream a filter reply, returning it as 400")
			rt.enqueue(a.ResponseItem(s))

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(RequestIDHeader, s.RequestID)
			w.WriteHeader(s.Status)
			w.Write(s.RespBody)
			return
		}

		rt.enqueue(a.ResponseItem(s))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set(RequestIDHeader, s.RequestID)
		w.WriteHeader(s.Status)
		sa := NewStreamAggregator(w)
		for _, frame := range frames {
			if err := sa.WriteFrame(frame); err != nil {
				return
			}
		}
		return
	}

	rt.enqueue(a.ResponseItem(s))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RequestIDHeader, s.RequestID)
	w.WriteHeader(s.Status)
	w.Write(s.RespBody)
}

// forward performs the upstream call and relays the reply.
func (rt *Router) forward(w http.ResponseWriter, r *http.Request, route *Route, s *adapter.Session) {
	a := route.Adapter
	s.StartAPI = time.Now()

	req, err := a.UpstreamRequest(r.Context(), s)
	if err != nil {
		rt.writeError(w, a, s, http.StatusBadGateway, err, "proxy_error")
		return
	}

	resp, err := rt.client.Do(req)
	if err != nil {
		rt.writeError(w, a, s, http.StatusBadGateway, fmt.Errorf("upstream call failed: %w", err), "proxy_error")
		return
	}
	defer resp.Body.Close()

	s.Status = resp.StatusCode
	s.RespHeaders = resp.Header

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		s.RespBody = body
		rt.enqueue(a.ErrorItem(s, fmt.Errorf("upstream returned status %d", resp.StatusCode)))

		rt.copyResponseHeaders(w, s)
		w.WriteHeader(s.Status)
		w.Write(body)
		return
	}

	if s.Stream {
		rt.relayStream(w, resp, a, s)
		return
	}
	rt.relayJSON(r.Context(), w, resp, route, s)
}

func (rt *Router) relayJSON(ctx context.Context, w http.ResponseWriter, resp *http.Response, route *Route, s *adapter.Session) {
	a := route.Adapter

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rt.writeError(w, a, s, http.StatusBadGateway, fmt.Errorf("failed to read upstream response: %w", err), "proxy_error")
		return
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		rt.writeError(w, a, s, http.StatusBadGateway, fmt.Errorf("upstream response is not valid JSON: %w", err), "proxy_error")
		return
	}

	filtered := route.Filters.RunResponse(ctx, s.RequestID, parsed, s.RespHeaders)
	out, err := json.Marshal(filtered)
	if err != nil {
		rt.writeError(w, a, s, http.StatusBadGateway, fmt.Errorf("failed to encode response: %w", err), "proxy_error")
		return
	}
	s.RespBody = out

	rt.copyResponseHeaders(w, s)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(s.Status)
	w.Write(out)

	rt.enqueue(a.ResponseItem(s))
}

// relayStream forwards the upstream stream chunk by chunk. Exactly one
// terminal log row is recorded however the stream ends: clean EOF, upstream
// error, or client disconnect.
func (rt *Router) relayStream(w http.ResponseWriter, resp *http.Response, a adapter.Adapter, s *adapter.Session) {
	rt.copyResponseHeaders(w, s)
	w.WriteHeader(s.Status)

	sa := NewStreamAggregator(w)
	defer func() {
		s.StreamBody = sa.Body()
		rt.enqueue(a.StreamItem(s))
	}()

	if err := sa.Relay(resp.Body); err != nil {
		rt.log.Warn().Err(err).Str("request_id", s.RequestID).Msg("stream relay ended early")
	}
}
