package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Table returns a sanitized, optionally schema-qualified table identifier.
func Table(schema, name string) string {
	if schema == "" {
		return pgx.Identifier{name}.Sanitize()
	}
	return pgx.Identifier{schema, name}.Sanitize()
}

// InsertIgnore builds an INSERT that silently skips rows violating a unique
// constraint. A zero RowsAffected means the row already existed.
func InsertIgnore(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		table, quoteAndJoin(cols), placeholders(len(cols)))
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ph, ", ")
}
