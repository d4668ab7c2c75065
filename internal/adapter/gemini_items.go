package adapter

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"aiproxy/internal/models"
	"aiproxy/internal/queue"
)

func init() {
	queue.RegisterItemType("gemini_request", func() any { return &GeminiRequestItem{} })
	queue.RegisterItemType("gemini_response", func() any { return &GeminiResponseItem{} })
	queue.RegisterItemType("gemini_stream", func() any { return &GeminiStreamItem{} })
}

// GeminiRequestItem maps a generateContent request. The model comes from the
// request path, never from the body.
type GeminiRequestItem struct {
	itemBase
	RawBody []byte            `json:"raw_body"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
	Model   string            `json:"model"`
}

func newGeminiRequestItem(s *Session) *GeminiRequestItem {
	body, _ := json.Marshal(s.Body)
	headers := models.FlattenHeaders(s.Headers)
	return &GeminiRequestItem{
		itemBase: itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionRequest, s.RawBody, headers)},
		RawBody:  s.RawBody,
		Body:     body,
		Headers:  headers,
		Model:    s.Model,
	}
}

func (i *GeminiRequestItem) AccessLogs() ([]*models.AccessLog, error) {
	contents := gjson.GetBytes(i.Body, "contents").Array()
	content := ""
	if len(contents) > 0 {
		content = contents[len(contents)-1].Get("parts.0.text").String()
	}
	return i.finish(&models.AccessLog{
		Direction:  models.DirectionRequest,
		Content:    content,
		RawBody:    string(i.RawBody),
		RawHeaders: models.HeadersJSON(i.Headers),
		Model:      i.Model,
	})
}

// GeminiResponseItem maps a non-streaming generateContent response. The API
// reports no usage, so token counts stay zero.
type GeminiResponseItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	Body        json.RawMessage   `json:"body"`
	Headers     map[string]string `json:"headers"`
	Model       string            `json:"model"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func newGeminiResponseItem(s *Session) *GeminiResponseItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &GeminiResponseItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.RespBody, headers)},
		StatusCode:  s.Status,
		Body:        s.RespBody,
		Headers:     headers,
		Model:       s.Model,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func (i *GeminiResponseItem) AccessLogs() ([]*models.AccessLog, error) {
	content := ""
	toolCalls := ""
	gjson.GetBytes(i.Body, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			content = t.String()
		}
		if f := part.Get("functionCall"); f.Exists() {
			toolCalls = f.Raw
		}
		return true
	})

	return i.finish(&models.AccessLog{
		Direction:      models.DirectionResponse,
		StatusCode:     i.StatusCode,
		Content:        content,
		ToolCalls:      toolCalls,
		RawBody:        string(i.Body),
		RawHeaders:     models.HeadersJSON(i.Headers),
		Model:          i.Model,
		RequestTime:    i.Duration,
		RequestTimeAPI: i.DurationAPI,
	})
}

// GeminiStreamItem maps an aggregated streamGenerateContent reply. The
// accumulated SSE frames carry JSON chunks whose candidate parts concatenate
// into the final text.
type GeminiStreamItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	Body        []byte            `json:"body"`
	Headers     map[string]string `json:"headers"`
	Model       string            `json:"model"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func newGeminiStreamItem(s *Session) *GeminiStreamItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &GeminiStreamItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.StreamBody, headers)},
		StatusCode:  s.Status,
		Body:        s.StreamBody,
		Headers:     headers,
		Model:       s.Model,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func (i *GeminiStreamItem) AccessLogs() ([]*models.AccessLog, error) {
	var content strings.Builder
	var functionCalls []json.RawMessage

	collect := func(chunk gjson.Result) {
		chunk.Get("candidates").ForEach(func(_, cand gjson.Result) bool {
			cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
				if t := part.Get("text"); t.Exists() {
					content.WriteString(t.String())
				}
				if f := part.Get("functionCall"); f.Exists() {
					functionCalls = append(functionCalls, json.RawMessage(f.Raw))
				}
				return true
			})
			return true
		})
	}

	body := string(i.Body)
	if parsed := gjson.Parse(strings.TrimSpace(body)); parsed.IsArray() {
		// The upstream replies with one JSON array when the client does not
		// ask for SSE framing.
		parsed.ForEach(func(_, chunk gjson.Result) bool {
			collect(chunk)
			return true
		})
	} else {
		for _, event := range strings.Split(body, "\n\n") {
			_, data, found := strings.Cut(event, "data:")
			if !found {
				continue
			}
			collect(gjson.Parse(strings.TrimSpace(data)))
		}
	}

	return i.finish(&models.AccessLog{
		Direction:      models.DirectionResponse,
		StatusCode:     i.StatusCode,
		Content:        content.String(),
		FunctionCall:   marshalOrEmpty(functionCalls != nil, functionCalls),
		RawBody:        body,
		RawHeaders:     models.HeadersJSON(i.Headers),
		Model:          i.Model,
		RequestTime:    i.Duration,
		RequestTimeAPI: i.DurationAPI,
	})
}
