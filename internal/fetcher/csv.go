package fetcher

import (
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVSource reads a header-led CSV stream one record at a time.
type CSVSource struct {
	r      *csv.Reader
	header []string
	closer io.Closer
}

// NewCSVSource reads the header from r. A leading UTF-8 BOM is dropped and
// invalid UTF-8 bytes are replaced with U+FFFD. Quotes are parsed leniently
// and records may have any number of fields.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	cr := csv.NewReader(transform.NewReader(r, dec))
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, eris.New("csv: empty file, no header")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	return &CSVSource{r: cr, header: header}, nil
}

// OpenCSV opens a CSV file. Close releases the file.
func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", path)
	}
	src, err := NewCSVSource(f)
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "csv: %s", path)
	}
	src.closer = f
	return src, nil
}

// Header returns the raw header record.
func (s *CSVSource) Header() []string { return s.header }

// Next returns the next record, or io.EOF at the end of the stream.
func (s *CSVSource) Next() ([]string, error) {
	rec, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read row")
	}
	return rec, nil
}

// Close releases the underlying file, if any.
func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
