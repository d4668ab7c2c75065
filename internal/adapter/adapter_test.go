package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestOpenAIParseRequest(t *testing.T) {
	a := NewOpenAIAdapter("sk-test")

	s := testSession(map[string]any{"model": "gpt-4", "stream": true}, `{}`)
	require.NoError(t, a.ParseRequest(s))
	assert.True(t, s.Stream)
	assert.Equal(t, "gpt-4", s.Model)

	s = testSession(map[string]any{"model": "gpt-4"}, `{}`)
	require.NoError(t, a.ParseRequest(s))
	assert.False(t, s.Stream)
}

func TestOpenAIUpstreamRequest(t *testing.T) {
	a := NewOpenAIAdapter("sk-upstream-key")
	s := testSession(map[string]any{"model": "gpt-4"}, `{}`)

	req, err := a.UpstreamRequest(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", req.URL.String())
	assert.Equal(t, "Bearer sk-upstream-key", req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("Host"))
}

func TestAzureOpenAIUpstreamRequest(t *testing.T) {
	a := NewAzureOpenAIAdapter("az-key", "myres", "mydeploy", "2024-02-01")
	s := testSession(map[string]any{"model": "ignored"}, `{}`)

	req, err := a.UpstreamRequest(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t,
		"https://myres.openai.azure.com/openai/deployments/mydeploy/chat/completions?api-version=2024-02-01",
		req.URL.String())
	assert.Equal(t, "az-key", req.Header.Get("api-key"))
	assert.Empty(t, req.Header.Get("Authorization"), "client credential must not leak upstream")
}

func TestUpstreamHeadersDropClientCredentials(t *testing.T) {
	s := testSession(nil, `{}`)
	s.Headers.Set("X-Api-Key", "client-key")
	s.Headers.Set("User-Agent", "some-client/1.0")

	h := UpstreamHeaders(s)
	assert.Empty(t, h.Get("Authorization"))
	assert.Empty(t, h.Get("X-Api-Key"))
	assert.Equal(t, "some-client/1.0", h.Get("User-Agent"))
}

func TestOpenAISynthesizeResponse(t *testing.T) {
	a := NewOpenAIAdapter("sk-test")
	body := a.SynthesizeResponse("you can't use this service")

	assert.Equal(t, "you can't use this service", gjson.GetBytes(body, "choices.0.message.content").String())
	assert.Equal(t, "request_filter", gjson.GetBytes(body, "model").String())
	assert.Equal(t, int64(0), gjson.GetBytes(body, "usage.total_tokens").Int())
}

func TestOpenAISynthesizeStream(t *testing.T) {
	a := NewOpenAIAdapter("sk-test")
	frames, err := a.SynthesizeStream("blocked")
	require.NoError(t, err)
	require.Len(t, frames, 3)

	joined := string(frames[0]) + string(frames[1]) + string(frames[2])
	assert.Contains(t, joined, `"content":"blocked"`)
	assert.True(t, strings.HasSuffix(joined, "data: [DONE]\n\n"))
}

func TestAnthropicSynthesizeStreamShape(t *testing.T) {
	a := NewAnthropicAdapter("key")
	frames, err := a.SynthesizeStream("hello")
	require.NoError(t, err)

	var all strings.Builder
	for _, f := range frames {
		all.Write(f)
	}
	assert.Contains(t, all.String(), `"type":"message_start"`)
	assert.Contains(t, all.String(), `"text":"hello"`)
	assert.Contains(t, all.String(), `"type":"message_stop"`)
}

func TestGeminiParseRequest(t *testing.T) {
	a := NewGeminiAdapter("g-key")

	s := testSession(map[string]any{}, `{}`)
	s.Path = "/googleaistudio/v1beta/models/gemini-pro:streamGenerateContent"
	require.NoError(t, a.ParseRequest(s))
	assert.Equal(t, "gemini-pro", s.Model)
	assert.True(t, s.Stream)

	s.Path = "/googleaistudio/v1beta/models/gemini-pro:generateContent"
	require.NoError(t, a.ParseRequest(s))
	assert.False(t, s.Stream)

	s.Path = "/googleaistudio/v1beta/oops"
	assert.Error(t, a.ParseRequest(s))
}

func TestGeminiUpstreamRequestCarriesKeyInQuery(t *testing.T) {
	a := NewGeminiAdapter("g-key")
	s := testSession(map[string]any{}, `{}`)
	s.Path = "/googleaistudio/v1beta/models/gemini-pro:generateContent"
	require.NoError(t, a.ParseRequest(s))

	req, err := a.UpstreamRequest(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "g-key", req.URL.Query().Get("key"))
	assert.Contains(t, req.URL.Path, "models/gemini-pro:generateContent")
}

func TestBedrockParseRequest(t *testing.T) {
	a := NewBedrockAdapter("AKID", "SECRET", "us-east-1")

	s := testSession(map[string]any{}, `{}`)
	s.Path = "/bedrock/model/anthropic.claude-3-sonnet-20240229-v1:0/invoke-with-response-stream"
	require.NoError(t, a.ParseRequest(s))
	assert.Equal(t, "anthropic.claude-3-sonnet-20240229-v1:0", s.Model)
	assert.True(t, s.Stream)

	s.Path = "/bedrock/model/anthropic.claude-3-sonnet-20240229-v1:0/invoke"
	require.NoError(t, a.ParseRequest(s))
	assert.False(t, s.Stream)
}

func TestBedrockUpstreamRequestIsSigned(t *testing.T) {
	a := NewBedrockAdapter("AKIDEXAMPLE", "secret", "eu-west-1")
	s := testSession(map[string]any{"messages": []any{}}, `{}`)
	s.Path = "/bedrock/model/anthropic.claude-3-haiku/invoke"
	require.NoError(t, a.ParseRequest(s))

	req, err := a.UpstreamRequest(context.Background(), s)
	require.NoError(t, err)
	auth := req.Header.Get("Authorization")
	assert.Contains(t, auth, "AWS4-HMAC-SHA256")
	assert.Contains(t, auth, "eu-west-1/bedrock/aws4_request")
	assert.Contains(t, req.URL.String(), "bedrock-runtime.eu-west-1.amazonaws.com")
}

func TestBedrockStreamSynthesisUnsupported(t *testing.T) {
	a := NewBedrockAdapter("AKID", "SECRET", "us-east-1")
	_, err := a.SynthesizeStream("nope")
	assert.ErrorIs(t, err, ErrStreamSynthesisUnsupported)

	legacy := NewBedrockLegacyAdapter("AKID", "SECRET", "us-east-1")
	_, err = legacy.SynthesizeStream("nope")
	assert.ErrorIs(t, err, ErrStreamSynthesisUnsupported)
}

func TestUpstreamRequestReflectsFilterMutations(t *testing.T) {
	received := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf strings.Builder
		body := make([]byte, 4096)
		n, _ := r.Body.Read(body)
		buf.Write(body[:n])
		received <- buf.String()
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	a := NewOpenAIAdapter("sk-test")
	a.Endpoint = upstream.URL

	s := testSession(map[string]any{"model": "gpt-4"}, `{"model":"gpt-4"}`)
	s.Body["model"] = "gpt-3.5-turbo"

	req, err := a.UpstreamRequest(context.Background(), s)
	require.NoError(t, err)
	_, err = http.DefaultClient.Do(req)
	require.NoError(t, err)

	assert.Contains(t, <-received, `"model":"gpt-3.5-turbo"`)
}
