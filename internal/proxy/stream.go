package proxy

import (
	"io"
	"net/http"
)

// StreamAggregator relays a streamed upstream body to the client while
// keeping a byte-faithful copy for the access log. Chunks are forwarded and
// flushed as they arrive; the proxy never reframes or re-times them.
type StreamAggregator struct {
	w       http.ResponseWriter
	flusher http.Flusher
	body    []byte
}

// NewStreamAggregator wraps the client side of a streamed reply. Headers
// and status must already be written.
func NewStreamAggregator(w http.ResponseWriter) *StreamAggregator {
	sa := &StreamAggregator{w: w}
	sa.flusher, _ = w.(http.Flusher)
	return sa
}

// Relay copies r to the client until EOF, a read error, or a client
// disconnect. Whatever was read is accumulated regardless of how the copy
// ends, so the terminal log row reflects everything relayed.
func (sa *StreamAggregator) Relay(r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sa.body = append(sa.body, buf[:n]...)
			if _, werr := sa.w.Write(buf[:n]); werr != nil {
				return werr
			}
			sa.flush()
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// WriteFrame sends one pre-framed chunk, accumulating it like relayed bytes.
func (sa *StreamAggregator) WriteFrame(frame []byte) error {
	sa.body = append(sa.body, frame...)
	if _, err := sa.w.Write(frame); err != nil {
		return err
	}
	sa.flush()
	return nil
}

func (sa *StreamAggregator) flush() {
	if sa.flusher != nil {
		sa.flusher.Flush()
	}
}

// Body returns the accumulated raw bytes.
func (sa *StreamAggregator) Body() []byte {
	return sa.body
}
