package adapter

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"aiproxy/internal/models"
	"aiproxy/internal/queue"
)

func init() {
	queue.RegisterItemType("bedrock_stream", func() any { return &BedrockStreamItem{} })
	queue.RegisterItemType("bedrock_legacy_request", func() any { return &BedrockLegacyRequestItem{} })
	queue.RegisterItemType("bedrock_legacy_response", func() any { return &BedrockLegacyResponseItem{} })
	queue.RegisterItemType("bedrock_legacy_stream", func() any { return &BedrockLegacyStreamItem{} })
}

// The Bedrock runtime frames streamed replies as a binary event stream.
// Each event carries a JSON payload with a base64 "bytes" field holding the
// provider chunk. The payloads are fished out of the raw bytes by pattern
// rather than by decoding the full framing.
var bedrockEventPattern = regexp.MustCompile(`(?s)event\{.*?\}`)

func bedrockEventPayloads(raw []byte) []string {
	var payloads []string
	for _, m := range bedrockEventPattern.FindAll(raw, -1) {
		b64 := gjson.GetBytes(m[len("event"):], "bytes").String()
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			continue
		}
		payloads = append(payloads, string(decoded))
	}
	return payloads
}

// BedrockStreamItem maps an aggregated messages event stream. Chunk payloads
// carry the same message_start/content_block_delta/message_delta events as
// the Anthropic SSE stream.
type BedrockStreamItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	Body        []byte            `json:"body"`
	Headers     map[string]string `json:"headers"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func newBedrockStreamItem(s *Session) *BedrockStreamItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &BedrockStreamItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.StreamBody, headers)},
		StatusCode:  s.Status,
		Body:        s.StreamBody,
		Headers:     headers,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func (i *BedrockStreamItem) AccessLogs() ([]*models.AccessLog, error) {
	var content strings.Builder
	model := ""
	promptTokens := 0
	completionTokens := 0

	for _, chunk := range bedrockEventPayloads(i.Body) {
		switch gjson.Get(chunk, "type").String() {
		case "message_start":
			model = gjson.Get(chunk, "message.model").String()
			promptTokens = int(gjson.Get(chunk, "message.usage.input_tokens").Int())
		case "content_block_delta":
			content.WriteString(gjson.Get(chunk, "delta.text").String())
		case "message_delta":
			completionTokens = int(gjson.Get(chunk, "usage.output_tokens").Int())
		}
	}

	return i.finish(&models.AccessLog{
		Direction:        models.DirectionResponse,
		StatusCode:       i.StatusCode,
		Content:          content.String(),
		RawBody:          string(i.Body),
		RawHeaders:       models.HeadersJSON(i.Headers),
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		RequestTime:      i.Duration,
		RequestTimeAPI:   i.DurationAPI,
	})
}

// BedrockLegacyRequestItem maps a claude-v2 text completion request. The
// prompt's last Human turn stands in for the message content.
type BedrockLegacyRequestItem struct {
	itemBase
	RawBody []byte            `json:"raw_body"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
}

func newBedrockLegacyRequestItem(s *Session) *BedrockLegacyRequestItem {
	body, _ := json.Marshal(s.Body)
	headers := models.FlattenHeaders(s.Headers)
	return &BedrockLegacyRequestItem{
		itemBase: itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionRequest, s.RawBody, headers)},
		RawBody:  s.RawBody,
		Body:     body,
		Headers:  headers,
	}
}

func (i *BedrockLegacyRequestItem) AccessLogs() ([]*models.AccessLog, error) {
	prompt := gjson.GetBytes(i.Body, "prompt").String()
	turns := strings.Split(prompt, "Human:")
	content := strings.TrimSpace(strings.SplitN(turns[len(turns)-1], "Assistant:", 2)[0])

	return i.finish(&models.AccessLog{
		Direction:  models.DirectionRequest,
		Content:    content,
		RawBody:    string(i.RawBody),
		RawHeaders: models.HeadersJSON(i.Headers),
		Model:      BedrockLegacyModel,
	})
}

// BedrockLegacyResponseItem maps a non-streaming claude-v2 completion. Token
// counts come from the x-amzn-bedrock-*-token-count response headers.
type BedrockLegacyResponseItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	Body        json.RawMessage   `json:"body"`
	Headers     map[string]string `json:"headers"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func newBedrockLegacyResponseItem(s *Session) *BedrockLegacyResponseItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &BedrockLegacyResponseItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.RespBody, headers)},
		StatusCode:  s.Status,
		Body:        s.RespBody,
		Headers:     headers,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func headerInt(headers map[string]string, name string) int {
	n, _ := strconv.Atoi(headers[name])
	return n
}

func (i *BedrockLegacyResponseItem) AccessLogs() ([]*models.AccessLog, error) {
	return i.finish(&models.AccessLog{
		Direction:        models.DirectionResponse,
		StatusCode:       i.StatusCode,
		Content:          gjson.GetBytes(i.Body, "completion").String(),
		RawBody:          string(i.Body),
		RawHeaders:       models.HeadersJSON(i.Headers),
		Model:            BedrockLegacyModel,
		PromptTokens:     headerInt(i.Headers, "x-amzn-bedrock-input-token-count"),
		CompletionTokens: headerInt(i.Headers, "x-amzn-bedrock-output-token-count"),
		RequestTime:      i.Duration,
		RequestTimeAPI:   i.DurationAPI,
	})
}

// BedrockLegacyStreamItem maps an aggregated claude-v2 event stream. The
// final chunk's invocationMetrics carries the token counts; error streams
// fall back to the response headers and log as direction "error".
type BedrockLegacyStreamItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	Body        []byte            `json:"body"`
	Headers     map[string]string `json:"headers"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func newBedrockLegacyStreamItem(s *Session) *BedrockLegacyStreamItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &BedrockLegacyStreamItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.StreamBody, headers)},
		StatusCode:  s.Status,
		Body:        s.StreamBody,
		Headers:     headers,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func (i *BedrockLegacyStreamItem) AccessLogs() ([]*models.AccessLog, error) {
	var content strings.Builder
	promptTokens := 0
	completionTokens := 0

	chunks := bedrockEventPayloads(i.Body)
	for _, chunk := range chunks {
		content.WriteString(gjson.Get(chunk, "completion").String())
	}
	if len(chunks) > 0 {
		if metrics := gjson.Get(chunks[len(chunks)-1], "amazon-bedrock-invocationMetrics"); metrics.Exists() {
			promptTokens = int(metrics.Get("inputTokenCount").Int())
			completionTokens = int(metrics.Get("outputTokenCount").Int())
		} else {
			promptTokens = headerInt(i.Headers, "x-amzn-bedrock-input-token-count")
			completionTokens = headerInt(i.Headers, "x-amzn-bedrock-output-token-count")
		}
	}

	direction := models.DirectionResponse
	if i.Headers["x-amzn-errortype"] != "" {
		direction = models.DirectionError
	}

	rawBody, _ := json.Marshal(chunks)
	return i.finish(&models.AccessLog{
		Direction:        direction,
		StatusCode:       i.StatusCode,
		Content:          content.String(),
		RawBody:          string(rawBody),
		RawHeaders:       models.HeadersJSON(i.Headers),
		Model:            BedrockLegacyModel,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		RequestTime:      i.Duration,
		RequestTimeAPI:   i.DurationAPI,
	})
}
