package adapter

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"aiproxy/internal/models"
	"aiproxy/internal/queue"
)

func init() {
	queue.RegisterItemType("anthropic_request", func() any { return &AnthropicRequestItem{} })
	queue.RegisterItemType("anthropic_response", func() any { return &AnthropicResponseItem{} })
	queue.RegisterItemType("anthropic_stream", func() any { return &AnthropicStreamItem{} })
}

// AnthropicRequestItem maps a messages API request. The Bedrock adapter
// reuses it with the model taken from the invoke path instead of the body.
type AnthropicRequestItem struct {
	itemBase
	RawBody []byte            `json:"raw_body"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
	Model   string            `json:"model"`
}

func newAnthropicRequestItem(s *Session, model string) *AnthropicRequestItem {
	body, _ := json.Marshal(s.Body)
	headers := models.FlattenHeaders(s.Headers)
	return &AnthropicRequestItem{
		itemBase: itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionRequest, s.RawBody, headers)},
		RawBody:  s.RawBody,
		Body:     body,
		Headers:  headers,
		Model:    model,
	}
}

func (i *AnthropicRequestItem) AccessLogs() ([]*models.AccessLog, error) {
	return i.finish(&models.AccessLog{
		Direction:  models.DirectionRequest,
		Content:    lastAnthropicContent(i.Body),
		RawBody:    string(i.RawBody),
		RawHeaders: models.HeadersJSON(i.Headers),
		Model:      i.Model,
	})
}

// lastAnthropicContent extracts the text of the newest message. Content
// blocks reduce to their last element; non-text blocks log a placeholder.
func lastAnthropicContent(body []byte) string {
	msgs := gjson.GetBytes(body, "messages").Array()
	if len(msgs) == 0 {
		return ""
	}
	content := msgs[len(msgs)-1].Get("content")
	if content.IsArray() {
		blocks := content.Array()
		if len(blocks) == 0 {
			return ""
		}
		content = blocks[len(blocks)-1]
	}
	if content.IsObject() {
		switch content.Get("type").String() {
		case "text":
			return content.Get("text").String()
		case "image":
			return "(image)"
		default:
			return "(other)"
		}
	}
	return content.String()
}

// AnthropicResponseItem maps a non-streaming messages API response. Model
// normally comes from the body; Bedrock overrides it with the invoke path.
type AnthropicResponseItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	Body        json.RawMessage   `json:"body"`
	Headers     map[string]string `json:"headers"`
	Model       string            `json:"model,omitempty"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func newAnthropicResponseItem(s *Session, modelOverride string) *AnthropicResponseItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &AnthropicResponseItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.RespBody, headers)},
		StatusCode:  s.Status,
		Body:        s.RespBody,
		Headers:     headers,
		Model:       modelOverride,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func (i *AnthropicResponseItem) AccessLogs() ([]*models.AccessLog, error) {
	model := i.Model
	if model == "" {
		model = gjson.GetBytes(i.Body, "model").String()
	}
	return i.finish(&models.AccessLog{
		Direction:        models.DirectionResponse,
		StatusCode:       i.StatusCode,
		Content:          gjson.GetBytes(i.Body, "content.0.text").String(),
		RawBody:          string(i.Body),
		RawHeaders:       models.HeadersJSON(i.Headers),
		Model:            model,
		PromptTokens:     int(gjson.GetBytes(i.Body, "usage.input_tokens").Int()),
		CompletionTokens: int(gjson.GetBytes(i.Body, "usage.output_tokens").Int()),
		RequestTime:      i.Duration,
		RequestTimeAPI:   i.DurationAPI,
	})
}

// AnthropicStreamItem maps an aggregated messages SSE stream. Model and
// token counts come from the message_start and message_delta events.
type AnthropicStreamItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	Body        []byte            `json:"body"`
	Headers     map[string]string `json:"headers"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func newAnthropicStreamItem(s *Session) *AnthropicStreamItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &AnthropicStreamItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.StreamBody, headers)},
		StatusCode:  s.Status,
		Body:        s.StreamBody,
		Headers:     headers,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func (i *AnthropicStreamItem) AccessLogs() ([]*models.AccessLog, error) {
	var content strings.Builder
	model := ""
	promptTokens := 0
	completionTokens := 0

	for _, event := range strings.Split(string(i.Body), "\n\n") {
		_, data, found := strings.Cut(event, "data:")
		if !found {
			continue
		}
		chunk := strings.TrimSpace(data)

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
