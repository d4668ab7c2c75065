package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/sjson"

	"aiproxy/internal/models"
)

// AnthropicAdapter proxies the Anthropic messages API.
type AnthropicAdapter struct {
	APIKey string
	// Endpoint is the full messages URL.
	Endpoint string
}

// NewAnthropicAdapter targets the Anthropic API directly.
func NewAnthropicAdapter(apiKey string) *AnthropicAdapter {
	return &AnthropicAdapter{
		APIKey:   apiKey,
		Endpoint: "https://api.anthropic.com/v1/messages",
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) ParseRequest(s *Session) error {
	s.Stream, _ = s.Body["stream"].(bool)
	s.Model, _ = s.Body["model"].(string)
	return nil
}

func (a *AnthropicAdapter) UpstreamRequest(ctx context.Context, s *Session) (*http.Request, error) {
	body, err := json.Marshal(s.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = UpstreamHeaders(s)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.APIKey)
	return req, nil
}

const anthropicSynthBody = `{"id":"-","type":"message","role":"assistant","model":"request_filter",` +
	`"content":[{"type":"text","text":""}],"stop_reason":"end_turn","stop_sequence":null,` +
	`"usage":{"input_tokens":0,"output_tokens":0}}`

func (a *AnthropicAdapter) SynthesizeResponse(content string) []byte {
	body, _ := sjson.SetBytes([]byte(anthropicSynthBody), "content.0.text", content)
	return body
}

func (a *AnthropicAdapter) SynthesizeStream(content string) ([][]byte, error) {
	delta, _ := sjson.Set(
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":""}}`,
		"delta.text", content,
	)
	chunks := []string{
		`{"type":"message_start","message":{"id":"-","type":"message","role":"assistant","content":[],"model":"request_filter","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"ping"}`,
		delta,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":0}}`,
		`{"type":"message_stop"}`,
	}

	frames := make([][]byte, 0, len(chunks))
	for _, chunk := range chunks {
		frames = append(frames, sseFrame([]byte(chunk)))
	}
	return frames, nil
}

func (a *AnthropicAdapter) RequestItem(s *Session) models.LogItem {
	return newAnthropicRequestItem(s, s.Model)
}

func (a *AnthropicAdapter) ResponseItem(s *Session) models.LogItem {
	return newAnthropicResponseItem(s, "")
}

func (a *AnthropicAdapter) StreamItem(s *Session) models.LogItem {
	return newAnthropicStreamItem(s)
}

func (a *AnthropicAdapter) ErrorItem(s *Session, err error) models.LogItem {
	return NewErrorItem(s, err)
}
