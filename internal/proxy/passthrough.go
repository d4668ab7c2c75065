package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"aiproxy/internal/adapter"
)

// Passthrough relays any resource the proxy has no adapter for, so a
// provider prefix can serve its whole API surface. Bodies are forwarded
// opaquely in both directions and logged with the resource path standing in
// for the model.
type Passthrough struct {
	// BaseURL is the upstream prefix the resource path is appended to.
	BaseURL string
	// Credential replaces the client credential with the proxy's own.
	Credential func(http.Header)
}

// HandlePassthrough mounts a catch-all relay under prefix ("/openai/").
func (rt *Router) HandlePassthrough(prefix string, p *Passthrough) {
	rt.mux.HandleFunc(prefix, rt.passthroughHandler(strings.TrimSuffix(prefix, "/"), p))
	rt.log.Info().Str("prefix", prefix).Str("upstream", p.BaseURL).Msg("passthrough mounted")
}

func (rt *Router) passthroughHandler(stripPrefix string, p *Passthrough) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := adapter.NewSession(r)
		s.Path = strings.TrimPrefix(r.URL.Path, stripPrefix)

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			rt.passthroughError(w, s, http.StatusBadRequest, fmt.Errorf("failed to read request body: %w", err))
			return
		}
		s.RawBody = raw
		rt.enqueue(adapter.NewPassthroughRequestItem(s))

		url := p.BaseURL + s.Path
		if r.URL.RawQuery != "" {
			url += "?" + r.URL.RawQuery
		}
		req, err := http.NewRequestWithContext(r.Context(), r.Method, url, bytes.NewReader(raw))
		if err != nil {
			rt.passthroughError(w, s, http.StatusBadGateway, err)
			return
		}
		req.Header = adapter.UpstreamHeaders(s)
		if p.Credential != nil {
			p.Credential(req.Header)
		}

		resp, err := rt.client.Do(req)
		if err != nil {
			rt.passthroughError(w, s, http.StatusBadGateway, fmt.Errorf("upstream call failed: %w", err))
			return
		}
		defer resp.Body.Close()

		s.Status = resp.StatusCode
		s.RespHeaders = resp.Header
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			rt.passthroughError(w, s, http.StatusBadGateway, fmt.Errorf("failed to read upstream response: %w", err))
			return
		}
		s.RespBody = body

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			rt.enqueue(adapter.NewErrorItem(s, fmt.Errorf("upstream returned status %d", resp.StatusCode)))
		} else {
			rt.enqueue(adapter.NewPassthroughResponseItem(s))
		}

		rt.copyResponseHeaders(w, s)
		w.WriteHeader(s.Status)
		w.Write(body)
	}
}

func (rt *Router) passthroughError(w http.ResponseWriter, s *adapter.Session, status int, err error) {
	rt.log.Error().Err(err).Str("request_id", s.RequestID).Msg("passthrough request failed")

	s.Status = status
	s.RespBody = errorBody(err.Error(), "proxy_error")
	rt.enqueue(adapter.NewErrorItem(s, err))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RequestIDHeader, s.RequestID)
	w.WriteHeader(status)
	w.Write(s.RespBody)
}
