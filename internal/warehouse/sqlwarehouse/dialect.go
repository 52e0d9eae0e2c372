package sqlwarehouse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	DriverSnowflake = "snowflake"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverDuckDB    = "duckdb"
)

var plainIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

type Dialect struct {
	Name string
	// SQLDriver is the database/sql driver name registered by the driver package.
	SQLDriver string
	// NumberedPlaceholders selects $1, $2, ... instead of ?.
	NumberedPlaceholders bool
	QuoteChar            string
}

var dialects = map[string]Dialect{
	DriverSnowflake: {Name: DriverSnowflake, SQLDriver: "snowflake", QuoteChar: `"`},
	DriverPostgres:  {Name: DriverPostgres, SQLDriver: "pgx", NumberedPlaceholders: true, QuoteChar: `"`},
	DriverMySQL:     {Name: DriverMySQL, SQLDriver: "mysql", QuoteChar: "`"},
	DriverDuckDB:    {Name: DriverDuckDB, SQLDriver: "duckdb", QuoteChar: `"`},
}

func LookupDialect(name string) (Dialect, error) {
	dialect, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported warehouse driver %q", name)
	}
	return dialect, nil
}

// QuoteTable renders a possibly qualified table name. Plain identifiers are
// left bare so the warehouse applies its own case folding; anything else is
// quoted.
func (d Dialect) QuoteTable(table string) (string, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return "", fmt.Errorf("table is required")
	}
	parts := strings.Split(table, ".")
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return "", fmt.Errorf("invalid table name %q", table)
		}
		quoted = append(quoted, d.quoteIdent(part))
	}
	return strings.Join(quoted, "."), nil
}

func (d Dialect) quoteIdent(ident string) string {
	if plainIdentifierPattern.MatchString(ident) {
		return ident
	}
	return d.QuoteChar + strings.ReplaceAll(ident, d.QuoteChar, d.QuoteChar+d.QuoteChar) + d.QuoteChar
}

func (d Dialect) placeholders(n int) string {
	values := make([]string, n)
	for i := range values {
		if d.NumberedPlaceholders {
			values[i] = "$" + strconv.Itoa(i+1)
		} else {
			values[i] = "?"
		}
	}
	return strings.Join(values, ", ")
}

// InsertStatement builds a single-row INSERT with one bound parameter per column.
func (d Dialect) InsertStatement(table string, columns int) (string, error) {
	if columns <= 0 {
		return "", fmt.Errorf("row has no values")
	}
	target, err := d.QuoteTable(table)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", target, d.placeholders(columns)), nil
}
