package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/sjson"

	"aiproxy/internal/models"
)

// OpenAIAdapter proxies the chat completions API, either against the OpenAI
// endpoint or an Azure OpenAI deployment. The two differ only in URL shape
// and credential header; request and response bodies share one wire format.
type OpenAIAdapter struct {
	APIKey string
	// Endpoint is the full chat completions URL.
	Endpoint string

	azure bool
}

// NewOpenAIAdapter targets the OpenAI API directly.
func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{
		APIKey:   apiKey,
		Endpoint: "https://api.openai.com/v1/chat/completions",
	}
}

// NewAzureOpenAIAdapter targets an Azure OpenAI deployment. The model is
// fixed by the deployment, not by the request body.
func NewAzureOpenAIAdapter(apiKey, resourceName, deploymentID, apiVersion string) *OpenAIAdapter {
	return &OpenAIAdapter{
		APIKey: apiKey,
		Endpoint: fmt.Sprintf(
			"https://%s.openai.azure.com/openai/deployments/%s/chat/completions?api-version=%s",
			resourceName, deploymentID, apiVersion,
		),
		azure: true,
	}
}

func (a *OpenAIAdapter) Name() string {
	if a.azure {
		return "azure-openai"
	}
	return "openai"
}

func (a *OpenAIAdapter) ParseRequest(s *Session) error {
	s.Stream, _ = s.Body["stream"].(bool)
	s.Model, _ = s.Body["model"].(string)
	return nil
}

func (a *OpenAIAdapter) UpstreamRequest(ctx context.Context, s *Session) (*http.Request, error) {
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
	if a.azure {
		req.Header.Set("api-key", a.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}
	return req, nil
}

const openAISynthBody = `{"id":"-","object":"chat.completion","created":0,"model":"request_filter",` +
	`"choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}],` +
	`"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`

func (a *OpenAIAdapter) SynthesizeResponse(content string) []byte {
	body, _ := sjson.SetBytes([]byte(openAISynthBody), "created", time.Now().UTC().Unix())
	body, _ = sjson.SetBytes(body, "choices.0.message.content", content)
	return body
}

const openAISynthChunk = `{"id":"-","object":"chat.completion.chunk","created":0,"model":"request_filter",` +
	`"choices":[{"index":0,"delta":{},"finish_reason":null}],` +
	`"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`

func (a *OpenAIAdapter) SynthesizeStream(content string) ([][]byte, error) {
	first, _ := sjson.SetBytes([]byte(openAISynthChunk), "choices.0.delta", map[string]any{"role": "assistant", "content": ""})
	last, _ := sjson.SetBytes([]byte(openAISynthChunk), "choices.0.delta", map[string]any{"content": content})
	last, _ = sjson.SetBytes(last, "choices.0.finish_reason", "stop")
	return [][]byte{sseFrame(first), sseFrame(last), sseFrame([]byte("[DONE]"))}, nil
}

func (a *OpenAIAdapter) RequestItem(s *Session) models.LogItem {
	return newOpenAIRequestItem(s)
}

func (a *OpenAIAdapter) ResponseItem(s *Session) models.LogItem {
	return newOpenAIResponseItem(s)
}

func (a *OpenAIAdapter) StreamItem(s *Session) models.LogItem {
	return newOpenAIStreamItem(s)
}

func (a *OpenAIAdapter) ErrorItem(s *Session, err error) models.LogItem {
	return NewErrorItem(s, err)
}
