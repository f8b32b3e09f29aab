package loader

import "strings"

// columnRenames maps legacy header names onto their current spelling.
var columnRenames = map[string]string{
	"other value": "other_value",
	"quarantine":  "quarantined",
}

// RecordSource yields a header followed by data records. Next returns io.EOF
// once the stream is exhausted.
type RecordSource interface {
	Header() []string
	Next() ([]string, error)
}

// Row is one normalized record. An empty value is treated as null.
type Row struct {
	cols   []string
	values map[string]string
}

// normalizeHeader lower-cases and trims column names and applies renames.
func normalizeHeader(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		c := strings.ToLower(strings.TrimSpace(h))
		if to, ok := columnRenames[c]; ok {
			c = to
		}
		cols[i] = c
	}
	return cols
}

// newRow pairs a record with its normalized header. Values are trimmed.
// Short records leave trailing columns empty; surplus fields are dropped.
func newRow(cols []string, rec []string) Row {
	r := Row{cols: cols, values: make(map[string]string, len(cols))}
	for i, c := range cols {
		if i < len(rec) {
			v := strings.TrimSpace(rec[i])
			if v != "" || r.values[c] == "" {
				r.values[c] = v
			}
			continue
		}
		if _, ok := r.values[c]; !ok {
			r.values[c] = ""
		}
	}
	return r
}

// Get returns the trimmed value of col, or "" when absent or null.
func (r Row) Get(col string) string { return r.values[col] }

// Has reports whether col is populated.
func (r Row) Has(col string) bool { return r.values[col] != "" }

// HasColumn reports whether col appears in the header.
func (r Row) HasColumn(col string) bool {
	_, ok := r.values[col]
	return ok
}

// Set overwrites the value of col. Columns added this way are not part of
// the header and are not reported by Columns.
func (r Row) Set(col, v string) { r.values[col] = v }

// Columns returns the populated header columns in header order.
func (r Row) Columns() []string {
	out := make([]string, 0, len(r.cols))
	seen := make(map[string]bool, len(r.cols))
	for _, c := range r.cols {
		if seen[c] || r.values[c] == "" {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Empty reports whether every value in the row is null.
func (r Row) Empty() bool {
	for _, v := range r.values {
		if v != "" {
			return false
		}
	}
	return true
}
