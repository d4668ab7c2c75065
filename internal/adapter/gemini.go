package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/tidwall/sjson"

	"aiproxy/internal/models"
)

// GeminiAdapter proxies the Google AI Studio Gemini API. The model and the
// generate method live in the request path, and the credential travels as a
// query parameter rather than a header.
type GeminiAdapter struct {
	APIKey string
	// BaseURL is the prefix in front of /models/{model}:{method}.
	BaseURL string
}

// NewGeminiAdapter targets the Gemini API directly.
func NewGeminiAdapter(apiKey string) *GeminiAdapter {
	return &GeminiAdapter{
		APIKey:  apiKey,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
	}
}

func (a *GeminiAdapter) Name() string { return "gemini" }

var geminiPathPattern = regexp.MustCompile(`models/(.*?):(\w+)`)

func (a *GeminiAdapter) ParseRequest(s *Session) error {
	m := geminiPathPattern.FindStringSubmatch(s.Path)
	if m == nil {
		return fmt.Errorf("no model in request path %q", s.Path)
	}
	s.Model = m[1]
	s.Stream = m[2] == "streamGenerateContent"
	return nil
}

func (a *GeminiAdapter) UpstreamRequest(ctx context.Context, s *Session) (*http.Request, error) {
	body, err := json.Marshal(s.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	method := "generateContent"
	if s.Stream {
		method = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/models/%s:%s?key=%s", a.BaseURL, s.Model, method, a.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = UpstreamHeaders(s)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

const geminiSynthCandidate = `{"content":{"parts":[{"text":""}],"role":"model"},"finishReason":"STOP","index":0,` +
	`"safetyRatings":[{"category":"HARM_CATEGORY_SEXUALLY_EXPLICIT","probability":"NEGLIGIBLE"},` +
	`{"category":"HARM_CATEGORY_HATE_SPEECH","probability":"NEGLIGIBLE"},` +
	`{"category":"HARM_CATEGORY_HARASSMENT","probability":"NEGLIGIBLE"},` +
	`{"category":"HARM_CATEGORY_DANGEROUS_CONTENT","probability":"NEGLIGIBLE"}]}`

func (a *GeminiAdapter) SynthesizeResponse(content string) []byte {
	body := []byte(`{"candidates":[` + geminiSynthCandidate + `]}`)
	body, _ = sjson.SetBytes(body, "candidates.0.content.parts.0.text", content)
	return body
}

func (a *GeminiAdapter) SynthesizeStream(content string) ([][]byte, error) {
	text, _ := sjson.SetBytes([]byte(geminiSynthCandidate), "content.parts.0.text", content)
	chunks := [][]byte{
		[]byte(`{"candidates":[{"content":{"parts":[{"text":""}],"role":"model"},"finishReason":"STOP","index":0}]}`),
		[]byte(`{"candidates":[` + string(text) + `]}`),
		[]byte(`{"candidates":[` + geminiSynthCandidate + `]}`),
	}

	frames := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		frames[i] = sseFrame(chunk)
	}
	return frames, nil
}

func (a *GeminiAdapter) RequestItem(s *Session) models.LogItem {
	return newGeminiRequestItem(s)
}

func (a *GeminiAdapter) ResponseItem(s *Session) models.LogItem {
	return newGeminiResponseItem(s)
}

func (a *GeminiAdapter) StreamItem(s *Session) models.LogItem {
	return newGeminiStreamItem(s)
}

func (a *GeminiAdapter) ErrorItem(s *Session, err error) models.LogItem {
	return NewErrorItem(s, err)
}
