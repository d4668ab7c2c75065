package models

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Log directions. Every exchange produces exactly one "request" row and one
// terminal "response" row sharing the same request_id. "error" marks rows
// written by the error path (upstream failures, filter exceptions).
const (
	DirectionRequest  = "request"
	DirectionResponse = "response"
	DirectionError    = "error"
)

// AccessLog is one persisted row of either the request or the response side
// of a proxied exchange.
type AccessLog struct {
	ID               int64     `db:"id"`
	RequestID        string    `db:"request_id"`
	CreatedAt        time.Time `db:"created_at"`
	Direction        string    `db:"direction"`
	StatusCode       int       `db:"status_code"`
	Content          string    `db:"content"`
	FunctionCall     string    `db:"function_call"`
	ToolCalls        string    `db:"tool_calls"`
	RawBody          string    `db:"raw_body"`
	RawHeaders       string    `db:"raw_headers"`
	Model            string    `db:"model"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	RequestTime      float64   `db:"request_time"`
	RequestTimeAPI   float64   `db:"request_time_api"`

	// Extra holds values for columns added on top of the base schema.
	// Keys must match the extra column names declared on the storage schema.
	Extra map[string]any `db:"-"`
}

// LogItem is the contract between the request-handling side and the
// AccessLogWorker. An item converts itself to one or more rows; custom
// mappings may return several rows per item.
type LogItem interface {
	AccessLogs() ([]*AccessLog, error)
}

// ExtraFieldsFunc derives values for extra schema columns from the raw wire
// payload. Installed per route; the result lands in AccessLog.Extra.
type ExtraFieldsFunc func(direction string, rawBody []byte, headers map[string]string) map[string]any

// Headers whose values are credentials and must never reach the store intact.
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"api-key":       true,
}

// MaskValue hides the middle of a credential, keeping just enough of both
// ends to correlate keys across rows.
func MaskValue(v string) string {
	if len(v) <= 14 {
		return "*****"
	}
	return v[:12] + "*****" + v[len(v)-2:]
}

// FlattenHeaders lowercases header names and joins multi-valued headers,
// masking credential values on the way.
func FlattenHeaders(h http.Header) map[string]string {
	if h == nil {
		return nil
	}
	flat := make(map[string]string, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		value := strings.Join(values, ", ")
		if sensitiveHeaders[key] {
			value = MaskValue(value)
		}
		flat[key] = value
	}
	return flat
}

// HeadersJSON serializes already-flattened headers for the raw_headers column.
func HeadersJSON(flat map[string]string) string {
	if flat == nil {
		return ""
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return ""
	}
	return string(b)
}
