package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"aiproxy/internal/models"
)

// AccessLogRepository reads and writes access log rows. Write access is
// reserved for the AccessLogWorker; the request-handling side only uses the
// read methods (replay).
type AccessLogRepository struct {
	db     *DB
	schema *Schema
}

// NewAccessLogRepository creates a repository bound to a schema.
func NewAccessLogRepository(db *DB, schema *Schema) *AccessLogRepository {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &AccessLogRepository{db: db, schema: schema}
}

// Insert writes one row inside the given execution context (normally the
// worker's transaction).
func (r *AccessLogRepository) Insert(ctx context.Context, ext sqlx.ExtContext, row *models.AccessLog) error {
	args := map[string]any{
		"request_id":        row.RequestID,
		"created_at":        row.CreatedAt,
		"direction":         row.Direction,
		"status_code":       row.StatusCode,
		"content":           row.Content,
		"function_call":     row.FunctionCall,
		"tool_calls":        row.ToolCalls,
		"raw_body":          row.RawBody,
		"raw_headers":       row.RawHeaders,
		"model":             row.Model,
		"prompt_tokens":     row.PromptTokens,
		"completion_tokens": row.CompletionTokens,
		"request_time":      row.RequestTime,
		"request_time_api":  row.RequestTimeAPI,
	}
	for _, c := range r.schema.ExtraColumns {
		if row.Extra != nil {
			args[c.Name] = row.Extra[c.Name]
		} else {
			args[c.Name] = nil
		}
	}

	if _, err := sqlx.NamedExecContext(ctx, ext, r.schema.insertSQL(), args); err != nil {
		return fmt.Errorf("failed to insert access log row: %w", err)
	}
	return nil
}

func (r *AccessLogRepository) selectColumns() string {
	return "id, " + strings.Join(baseColumns, ", ")
}

// LatestResponse returns the most recent response-direction row for a
// request id. Used by the replay filter through a read-only path.
func (r *AccessLogRepository) LatestResponse(ctx context.Context, requestID string) (*models.AccessLog, error) {
	query := r.db.conn.Rebind(fmt.Sprintf(
		"SELECT %s FROM %s WHERE request_id = ? AND direction = ? ORDER BY id DESC LIMIT 1",
		r.selectColumns(), r.schema.Table,
	))

	var row models.AccessLog
	err := r.db.conn.GetContext(ctx, &row, query, requestID, models.DirectionResponse)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query latest response: %w", err)
	}
	return &row, nil
}

// ByRequestID returns all rows for a request id in insertion order.
func (r *AccessLogRepository) ByRequestID(ctx context.Context, requestID string) ([]*models.AccessLog, error) {
	query := r.db.conn.Rebind(fmt.Sprintf(
		"SELECT %s FROM %s WHERE request_id = ? ORDER BY id",
		r.selectColumns(), r.schema.Table,
	))

	var rows []*models.AccessLog
	if err := r.db.conn.SelectContext(ctx, &rows, query, requestID); err != nil {
		return nil, fmt.Errorf("failed to query rows by request id: %w", err)
	}
	return rows, nil
}
