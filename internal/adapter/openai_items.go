package adapter

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"aiproxy/internal/models"
	"aiproxy/internal/queue"
)

func init() {
	queue.RegisterItemType("openai_request", func() any { return &OpenAIRequestItem{} })
	queue.RegisterItemType("openai_response", func() any { return &OpenAIResponseItem{} })
	queue.RegisterItemType("openai_stream", func() any { return &OpenAIStreamItem{} })
}

// OpenAIRequestItem maps a chat completions request to its log row. Body is
// the filtered request (what went upstream), RawBody the bytes the client
// actually sent.
type OpenAIRequestItem struct {
	itemBase
	RawBody []byte            `json:"raw_body"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
	Model   string            `json:"model"`
}

func newOpenAIRequestItem(s *Session) *OpenAIRequestItem {
	body, _ := json.Marshal(s.Body)
	headers := models.FlattenHeaders(s.Headers)
	return &OpenAIRequestItem{
		itemBase: itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionRequest, s.RawBody, headers)},
		RawBody:  s.RawBody,
		Body:     body,
		Headers:  headers,
		Model:    s.Model,
	}
}

func (i *OpenAIRequestItem) AccessLogs() ([]*models.AccessLog, error) {
	return i.finish(&models.AccessLog{
		Direction:  models.DirectionRequest,
		Content:    lastMessageContent(i.Body),
		RawBody:    string(i.RawBody),
		RawHeaders: models.HeadersJSON(i.Headers),
		Model:      i.Model,
	})
}

// lastMessageContent extracts the text of the newest chat message. Vision
// style content arrays yield their first text part, or the raw array when
// no text part exists.
func lastMessageContent(body []byte) string {
	msgs := gjson.GetBytes(body, "messages").Array()
	if len(msgs) == 0 {
		return ""
	}
	content := msgs[len(msgs)-1].Get("content")
	if !content.IsArray() {
		return content.String()
	}
	for _, part := range content.Array() {
		if part.Get("type").String() == "text" {
			return part.Get("text").String()
		}
	}
	return content.Raw
}

// OpenAIResponseItem maps a non-streaming chat completions response.
type OpenAIResponseItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	Body        json.RawMessage   `json:"body"`
	Headers     map[string]string `json:"headers"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func newOpenAIResponseItem(s *Session) *OpenAIResponseItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &OpenAIResponseItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.RespBody, headers)},
		StatusCode:  s.Status,
		Body:        s.RespBody,
		Headers:     headers,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func (i *OpenAIResponseItem) AccessLogs() ([]*models.AccessLog, error) {
	message := gjson.GetBytes(i.Body, "choices.0.message")
	return i.finish(&models.AccessLog{
		Direction:        models.DirectionResponse,
		StatusCode:       i.StatusCode,
		Content:          message.Get("content").String(),
		FunctionCall:     message.Get("function_call").Raw,
		ToolCalls:        message.Get("tool_calls").Raw,
		RawBody:          string(i.Body),
		RawHeaders:       models.HeadersJSON(i.Headers),
		Model:            gjson.GetBytes(i.Body, "model").String(),
		PromptTokens:     int(gjson.GetBytes(i.Body, "usage.prompt_tokens").Int()),
		CompletionTokens: int(gjson.GetBytes(i.Body, "usage.completion_tokens").Int()),
		RequestTime:      i.Duration,
		RequestTimeAPI:   i.DurationAPI,
	})
}

// OpenAIStreamItem maps an aggregated SSE stream. The upstream sends no
// usage block in stream mode, so token counts are reconstructed locally.
type OpenAIStreamItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	Body        []byte            `json:"body"`
	RequestBody json.RawMessage   `json:"request_body"`
	Headers     map[string]string `json:"headers"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func newOpenAIStreamItem(s *Session) *OpenAIStreamItem {
	reqBody, _ := json.Marshal(s.Body)
	headers := models.FlattenHeaders(s.RespHeaders)
	return &OpenAIStreamItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.StreamBody, headers)},
		StatusCode:  s.Status,
		Body:        s.StreamBody,
		RequestBody: reqBody,
		Headers:     headers,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func (i *OpenAIStreamItem) AccessLogs() ([]*models.AccessLog, error) {
	var (
		content      strings.Builder
		model        string
		functionCall map[string]string
		toolCalls    []map[string]any
	)

	for _, event := range strings.Split(string(i.Body), "\n\n") {
		event = strings.TrimSpace(event)
		if !strings.HasPrefix(event, "data:") {
			continue
		}
		if strings.HasSuffix(event, "[DONE]") {
			break
		}
		chunk := strings.TrimSpace(event[len("data:"):])

		choices := gjson.Get(chunk, "choices")
		if len(choices.Array()) == 0 {
			// Azure sends a first chunk with empty choices.
			continue
		}
		if model == "" {
			model = gjson.Get(chunk, "model").String()
		}

		delta := choices.Array()[0].Get("delta")
		switch {
		case delta.Get("tool_calls").Exists():
			call := delta.Get("tool_calls.0.function")
			if name := call.Get("name").String(); name != "" {
				toolCalls = append(toolCalls, map[string]any{
					"type":     "function",
					"function": map[string]any{"name": name, "arguments": ""},
				})
			} else if len(toolCalls) > 0 {
				fn := toolCalls[len(toolCalls)-1]["function"].(map[string]any)
				fn["arguments"] = fn["arguments"].(string) + call.Get("arguments").String()
			}
		case delta.Get("function_call").Exists():
			if functionCall == nil {
				functionCall = map[string]string{}
			}
			if name := delta.Get("function_call.name").String(); name != "" {
				functionCall["name"] = name
				functionCall["arguments"] = ""
			} else {
				functionCall["arguments"] += delta.Get("function_call.arguments").String()
			}
		default:
			content.WriteString(delta.Get("content").String())
		}
	}

	functionCallJSON := marshalOrEmpty(functionCall != nil, functionCall)
	toolCallsJSON := marshalOrEmpty(toolCalls != nil, toolCalls)

	completionTokens := 0
	switch {
	case toolCallsJSON != "":
		completionTokens = countTokens(toolCallsJSON)
	case functionCallJSON != "":
		completionTokens = countTokens(functionCallJSON)
	default:
		completionTokens = countTokens(content.String())
	}

	return i.finish(&models.AccessLog{
		Direction:        models.DirectionResponse,
		StatusCode:       i.StatusCode,
		Content:          content.String(),
		FunctionCall:     functionCallJSON,
		ToolCalls:        toolCallsJSON,
		RawBody:          string(i.Body),
		RawHeaders:       models.HeadersJSON(i.Headers),
		Model:            model,
		PromptTokens:     countRequestTokens(i.RequestBody),
		CompletionTokens: completionTokens,
		RequestTime:      i.Duration,
		RequestTimeAPI:   i.DurationAPI,
	})
}

func marshalOrEmpty(present bool, v any) string {
	if !present {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
