// Package store persists the dictionary, scrapes and facts produced by the
// loader. Every create is create-if-absent on the natural key so concurrent
// loaders can race on the same provider, geounit or attribute safely.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/covid-loader/internal/model"
)

// CreateResult reports whether a create-if-absent call inserted a new row.
type CreateResult int

const (
	Created CreateResult = iota + 1
	Existed
)

func (r CreateResult) String() string {
	switch r {
	case Created:
		return "created"
	case Existed:
		return "existed"
	default:
		return "unknown"
	}
}

// ErrConflict matches any integrity violation (unique or foreign key)
// raised by a single write.
var ErrConflict = errors.New("store: conflict")

// ConflictError wraps the driver error behind an integrity violation.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	return "store: " + e.Op + ": conflict: " + e.Err.Error()
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Dictionary manages providers, vendors and datasets.
type Dictionary interface {
	CreateProvider(ctx context.Context, id string) (CreateResult, error)
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	CreateVendor(ctx context.Context, v model.Vendor) (CreateResult, error)
	GetVendor(ctx context.Context, id string) (*model.Vendor, error)
	CreateDataset(ctx context.Context, d model.Dataset) (CreateResult, error)
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
}

// GeoUnits manages geographic units.
type GeoUnits interface {
	CreateGeoUnit(ctx context.Context, g model.GeoUnit) (CreateResult, error)
	GetGeoUnit(ctx context.Context, id string) (*model.GeoUnit, error)
}

// Attributes manages per-dataset attribute definitions.
type Attributes interface {
	CreateAttribute(ctx context.Context, a model.Attribute) (CreateResult, error)
	GetAttribute(ctx context.Context, datasetID, key string) (*model.Attribute, error)
}

// Scrapes manages scrape records.
type Scrapes interface {
	// FindScrape returns the id of the scrape with the given natural key.
	FindScrape(ctx context.Context, providerID, uri string, scrapedAt time.Time) (int64, bool, error)
	// CreateScrape inserts s unless its natural key exists and returns the
	// id of whichever row holds that key.
	CreateScrape(ctx context.Context, s model.Scrape) (int64, CreateResult, error)
	CountScrapesByFile(ctx context.Context, csvFile string) (int64, error)
	// DeleteByFile removes every fact and then every scrape that came from
	// csvFile. The two deletes are not atomic.
	DeleteByFile(ctx context.Context, csvFile string) (facts int64, scrapes int64, err error)
}

// Facts manages the append-only fact table.
type Facts interface {
	AppendFact(ctx context.Context, f model.Fact) error
	CountFacts(ctx context.Context) (int64, error)
	ListFacts(ctx context.Context, scrapeID int64) ([]model.Fact, error)
}

// LoadLog records one entry per file load.
type LoadLog interface {
	StartLoad(ctx context.Context, file string, mode model.Mode) (string, error)
	CompleteLoad(ctx context.Context, id string, summary *model.LoadSummary) error
	FailLoad(ctx context.Context, id string, errMsg string, summary *model.LoadSummary) error
	ListLoads(ctx context.Context, limit int) ([]model.LoadRun, error)
}

// Store is the full persistence surface used by the loader and the CLI.
type Store interface {
	Dictionary
	GeoUnits
	Attributes
	Scrapes
	Facts
	LoadLog

	Migrate(ctx context.Context) error
	Close() error
}
