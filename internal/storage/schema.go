package storage

import (
	"context"
	"fmt"
	"strings"
)

// Column describes one extra column appended to the base access log table.
type Column struct {
	Name string
	Type string // SQL type; empty means the schema's text type
}

// Schema describes the access log table. The base columns are fixed;
// deployments add columns by listing them here and deriving their values
// with a models.ExtraFieldsFunc on the route — the base row layout is never
// edited.
type Schema struct {
	Table        string
	ExtraColumns []Column

	// WideText switches the text columns to LONGTEXT for storage engines
	// whose default text width truncates large request bodies.
	WideText bool
}

// DefaultSchema returns the stock "accesslog" table.
func DefaultSchema() *Schema {
	return &Schema{Table: "accesslog"}
}

func (s *Schema) textType() string {
	if s.WideText {
		return "LONGTEXT"
	}
	return "TEXT"
}

var baseColumns = []string{
	"request_id",
	"created_at",
	"direction",
	"status_code",
	"content",
	"function_call",
	"tool_calls",
	"raw_body",
	"raw_headers",
	"model",
	"prompt_tokens",
	"completion_tokens",
	"request_time",
	"request_time_api",
}

// DDL returns the statements that create the table and its correlation
// index for the given driver.
func (s *Schema) DDL(driver string) []string {
	text := s.textType()

	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		idCol = "id BIGSERIAL PRIMARY KEY"
	}

	cols := []string{
		idCol,
		"request_id TEXT",
		"created_at TIMESTAMP",
		"direction TEXT",
		"status_code INTEGER",
		"content " + text,
		"function_call " + text,
		"tool_calls " + text,
		"raw_body " + text,
		"raw_headers " + text,
		"model TEXT",
		"prompt_tokens INTEGER",
		"completion_tokens INTEGER",
		"request_time DOUBLE PRECISION",
		"request_time_api DOUBLE PRECISION",
	}
	for _, c := range s.ExtraColumns {
		colType := c.Type
		if colType == "" {
			colType = text
		}
		cols = append(cols, c.Name+" "+colType)
	}

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.Table, strings.Join(cols, ",\n\t")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_request_id ON %s (request_id)", s.Table, s.Table),
	}
}

func (s *Schema) insertSQL() string {
	cols := make([]string, 0, len(baseColumns)+len(s.ExtraColumns))
	cols = append(cols, baseColumns...)
	for _, c := range s.ExtraColumns {
		cols = append(cols, c.Name)
	}

	params := make([]string, len(cols))
	for i, c := range cols {
		params[i] = ":" + c
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		s.Table, strings.Join(cols, ", "), strings.Join(params, ", "),
	)
}

// EnsureSchema creates the table and index if they do not exist.
func EnsureSchema(ctx context.Context, db *DB, schema *Schema) error {
	for _, stmt := range schema.DDL(db.Driver()) {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema for %s: %w", schema.Table, err)
		}
	}
	return nil
}
