package adapter

import (
	"time"

	"aiproxy/internal/models"
	"aiproxy/internal/queue"
)

func init() {
	queue.RegisterItemType("error", func() any { return &ErrorItem{} })
	queue.RegisterItemType("passthrough_request", func() any { return &PassthroughRequestItem{} })
	queue.RegisterItemType("passthrough_response", func() any { return &PassthroughResponseItem{} })
}

// itemBase carries the fields every log item shares.
type itemBase struct {
	RequestID string         `json:"request_id"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func (b itemBase) finish(rows ...*models.AccessLog) ([]*models.AccessLog, error) {
	for _, row := range rows {
		row.RequestID = b.RequestID
		row.CreatedAt = time.Now().UTC()
		if b.Extra != nil {
			row.Extra = b.Extra
		}
	}
	return rows, nil
}

// ErrorItem records a failed exchange: upstream non-2xx statuses, transport
// failures and anything else the error path catches. All adapters share it.
type ErrorItem struct {
	itemBase
	Message    string            `json:"message"`
	RawBody    string            `json:"raw_body"`
	Headers    map[string]string `json:"headers,omitempty"`
	StatusCode int               `json:"status_code"`
}

// NewErrorItem builds the error row input for a session.
func NewErrorItem(s *Session, err error) *ErrorItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &ErrorItem{
		itemBase:   itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionError, s.RespBody, headers)},
		Message:    err.Error(),
		RawBody:    string(s.RespBody),
		Headers:    headers,
		StatusCode: s.Status,
	}
}

func (i *ErrorItem) AccessLogs() ([]*models.AccessLog, error) {
	return i.finish(&models.AccessLog{
		Direction:  models.DirectionError,
		StatusCode: i.StatusCode,
		Content:    i.Message,
		RawBody:    i.RawBody,
		RawHeaders: models.HeadersJSON(i.Headers),
		Model:      "error_handler",
	})
}

// PassthroughRequestItem logs a request on the catch-all route, where the
// proxy relays the body without understanding it. The resource path stands
// in for the model.
type PassthroughRequestItem struct {
	itemBase
	RawBody []byte            `json:"raw_body"`
	Headers map[string]string `json:"headers"`
	Path    string            `json:"path"`
}

func NewPassthroughRequestItem(s *Session) *PassthroughRequestItem {
	headers := models.FlattenHeaders(s.Headers)
	return &PassthroughRequestItem{
		itemBase: itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionRequest, s.RawBody, headers)},
		RawBody:  s.RawBody,
		Headers:  headers,
		Path:     s.Path,
	}
}

func (i *PassthroughRequestItem) AccessLogs() ([]*models.AccessLog, error) {
	return i.finish(&models.AccessLog{
		Direction:  models.DirectionRequest,
		RawBody:    string(i.RawBody),
		RawHeaders: models.HeadersJSON(i.Headers),
		Model:      i.Path,
	})
}

// PassthroughResponseItem is the response side of the catch-all route.
type PassthroughResponseItem struct {
	itemBase
	StatusCode  int               `json:"status_code"`
	RawBody     []byte            `json:"raw_body"`
	Headers     map[string]string `json:"headers"`
	Path        string            `json:"path"`
	Duration    float64           `json:"duration"`
	DurationAPI float64           `json:"duration_api"`
}

func NewPassthroughResponseItem(s *Session) *PassthroughResponseItem {
	headers := models.FlattenHeaders(s.RespHeaders)
	return &PassthroughResponseItem{
		itemBase:    itemBase{RequestID: s.RequestID, Extra: s.extra(models.DirectionResponse, s.RespBody, headers)},
		StatusCode:  s.Status,
		RawBody:     s.RespBody,
		Headers:     headers,
		Path:        s.Path,
		Duration:    s.Duration(),
		DurationAPI: s.DurationAPI(),
	}
}

func (i *PassthroughResponseItem) AccessLogs() ([]*models.AccessLog, error) {
	return i.finish(&models.AccessLog{
		Direction:      models.DirectionResponse,
		StatusCode:     i.StatusCode,
		RawBody:        string(i.RawBody),
		RawHeaders:     models.HeadersJSON(i.Headers),
		Model:          i.Path,
		RequestTime:    i.Duration,
		RequestTimeAPI: i.DurationAPI,
	})
}
