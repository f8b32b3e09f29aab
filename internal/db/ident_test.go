package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable(t *testing.T) {
	tests := []struct {
		schema, name string
		expected     string
	}{
		{"", "stav", `"stav"`},
		{"staging", "stav", `"staging"."stav"`},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, Table(tt.schema, tt.name))
		})
	}
}

func TestInsertIgnore(t *testing.T) {
	got := InsertIgnore(Table("staging", "geounits"), []string{"geounit_id", "resolution"})
	assert.Equal(t,
		`INSERT INTO "staging"."geounits" ("geounit_id", "resolution") VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		got)
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
