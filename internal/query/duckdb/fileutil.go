package duckdb

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return nil
}

// textValues renders scanned values the way a query service renders its
// varchar result columns.
func textValues(values []any) []sql.NullString {
	row := make([]sql.NullString, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case nil:
		case []byte:
			row[i] = sql.NullString{String: string(typed), Valid: true}
		case string:
			row[i] = sql.NullString{String: typed, Valid: true}
		case time.Time:
			row[i] = sql.NullString{String: typed.UTC().Format("2006-01-02 15:04:05.000"), Valid: true}
		default:
			row[i] = sql.NullString{String: fmt.Sprint(typed), Valid: true}
		}
	}
	return row
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
