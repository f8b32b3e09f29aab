package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/covid-loader/internal/model"
)

// sqliteTime is the text layout used for scrape timestamps so equality
// lookups compare identical strings.
const sqliteTime = "2006-01-02T15:04:05.999999999Z"

const sqliteDate = "2006-01-02"

// SQLiteStore implements Store using modernc.org/sqlite. It holds a single
// connection so per-connection pragmas apply to every statement.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS providers (
	provider_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS vendors (
	vendor_id TEXT PRIMARY KEY,
	name      TEXT
);

CREATE TABLE IF NOT EXISTS datasets (
	dataset_id TEXT PRIMARY KEY,
	vendor_id  TEXT NOT NULL REFERENCES vendors(vendor_id),
	name       TEXT
);

CREATE TABLE IF NOT EXISTS geounits (
	geounit_id TEXT PRIMARY KEY,
	resolution TEXT
);

CREATE TABLE IF NOT EXISTS attributes (
	dataset_id TEXT NOT NULL REFERENCES datasets(dataset_id),
	attr       TEXT NOT NULL,
	name       TEXT,
	meta       TEXT,
	PRIMARY KEY (dataset_id, attr)
);

CREATE TABLE IF NOT EXISTS scrapes (
	scrape_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_id TEXT NOT NULL REFERENCES providers(provider_id),
	uri         TEXT NOT NULL,
	dataset_id  TEXT REFERENCES datasets(dataset_id),
	scraped_ts  TEXT NOT NULL,
	doc         TEXT,
	csv_file    TEXT,
	csv_row     INTEGER,
	UNIQUE (provider_id, uri, scraped_ts)
);

CREATE TABLE IF NOT EXISTS stav (
	scrape_id  INTEGER NOT NULL REFERENCES scrapes(scrape_id),
	geounit_id TEXT NOT NULL REFERENCES geounits(geounit_id),
	vtime      TEXT NOT NULL,
	attr       TEXT NOT NULL,
	val        TEXT,
	csv_row    INTEGER,
	csv_col    TEXT
);

CREATE TABLE IF NOT EXISTS load_runs (
	id           TEXT PRIMARY KEY,
	csv_file     TEXT NOT NULL,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	summary      TEXT,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_scrapes_csv_file ON scrapes(csv_file);
CREATE INDEX IF NOT EXISTS idx_stav_scrape_id ON stav(scrape_id);
CREATE INDEX IF NOT EXISTS idx_stav_geounit_vtime ON stav(geounit_id, vtime);
CREATE INDEX IF NOT EXISTS idx_load_runs_started_at ON load_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) insertIgnore(ctx context.Context, op, query string, args ...any) (CreateResult, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isConstraint(err) {
			return 0, &ConflictError{Op: op, Err: err}
		}
		return 0, eris.Wrapf(err, "sqlite: %s", op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return Existed, nil
	}
	return Created, nil
}

func (s *SQLiteStore) CreateProvider(ctx context.Context, id string) (CreateResult, error) {
	return s.insertIgnore(ctx, "create provider",
		`INSERT INTO providers (provider_id) VALUES (?) ON CONFLICT DO NOTHING`, id)
}

func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	var p model.Provider
	err := s.db.QueryRowContext(ctx,
		`SELECT provider_id FROM providers WHERE provider_id = ?`, id,
	).Scan(&p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get provider %s", id)
	}
	return &p, nil
}

func (s *SQLiteStore) CreateVendor(ctx context.Context, v model.Vendor) (CreateResult, error) {
	return s.insertIgnore(ctx, "create vendor",
		`INSERT INTO vendors (vendor_id, name) VALUES (?, ?) ON CONFLICT DO NOTHING`, v.ID, v.Name)
}

func (s *SQLiteStore) GetVendor(ctx context.Context, id string) (*model.Vendor, error) {
	var v model.Vendor
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT vendor_id, name FROM vendors WHERE vendor_id = ?`, id,
	).Scan(&v.ID, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get vendor %s", id)
	}
	v.Name = name.String
	return &v, nil
}

func (s *SQLiteStore) CreateDataset(ctx context.Context, d model.Dataset) (CreateResult, error) {
	return s.insertIgnore(ctx, "create dataset",
		`INSERT INTO datasets (dataset_id, vendor_id, name) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		d.ID, d.VendorID, d.Name)
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	var d model.Dataset
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT dataset_id, vendor_id, name FROM datasets WHERE dataset_id = ?`, id,
	).Scan(&d.ID, &d.VendorID, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dataset %s", id)
	}
	d.Name = name.String
	return &d, nil
}

func (s *SQLiteStore) CreateGeoUnit(ctx context.Context, g model.GeoUnit) (CreateResult, error) {
	return s.insertIgnore(ctx, "create geounit",
		`INSERT INTO geounits (geounit_id, resolution) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		g.ID, nullable(g.Resolution))
}

func (s *SQLiteStore) GetGeoUnit(ctx context.Context, id string) (*model.GeoUnit, error) {
	var g model.GeoUnit
	var res sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT geounit_id, resolution FROM geounits WHERE geounit_id = ?`, id,
	).Scan(&g.ID, &res)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get geounit %s", id)
	}
	g.Resolution = res.String
	return &g, nil
}

func (s *SQLiteStore) CreateAttribute(ctx context.Context, a model.Attribute) (CreateResult, error) {
	var meta any
	if len(a.Meta) > 0 {
		b, err := json.Marshal(a.Meta)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal attribute meta")
		}
		meta = string(b)
	}
	return s.insertIgnore(ctx, "create attribute",
		`INSERT INTO attributes (dataset_id, attr, name, meta) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		a.DatasetID, a.Key, a.Name, meta)
}

func (s *SQLiteStore) GetAttribute(ctx context.Context, datasetID, key string) (*model.Attribute, error) {
	a := model.Attribute{DatasetID: datasetID}
	var name, meta sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT attr, name, meta FROM attributes WHERE dataset_id = ? AND attr = ?`, datasetID, key,
	).Scan(&a.Key, &name, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get attribute %s/%s", datasetID, key)
	}
	a.Name = name.String
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &a.Meta); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal attribute meta")
		}
	}
	return &a, nil
}

func (s *SQLiteStore) FindScrape(ctx context.Context, providerID, uri string, scrapedAt time.Time) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT scrape_id FROM scrapes WHERE provider_id = ? AND uri = ? AND scraped_ts = ?`,
		providerID, uri, scrapedAt.UTC().Format(sqliteTime),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: find scrape")
	}
	return id, true, nil
}

func (s *SQLiteStore) CreateScrape(ctx context.Context, sc model.Scrape) (int64, CreateResult, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO scrapes (provider_id, uri, dataset_id, scraped_ts, doc, csv_file, csv_row)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider_id, uri, scraped_ts) DO NOTHING
		 RETURNING scrape_id`,
		sc.ProviderID, sc.URI, nullable(sc.DatasetID), sc.ScrapedAt.UTC().Format(sqliteTime),
		nullable(sc.Doc), sc.CSVFile, sc.CSVRow,
	).Scan(&id)
	if err == nil {
		return id, Created, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if isConstraint(err) {
			return 0, 0, &ConflictError{Op: "create scrape", Err: err}
		}
		return 0, 0, eris.Wrap(err, "sqlite: create scrape")
	}

	id, found, err := s.FindScrape(ctx, sc.ProviderID, sc.URI, sc.ScrapedAt)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, eris.Errorf("sqlite: scrape %s %s vanished after conflict", sc.ProviderID, sc.URI)
	}
	return id, Existed, nil
}

func (s *SQLiteStore) CountScrapesByFile(ctx context.Context, csvFile string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM scrapes WHERE csv_file = ?`, csvFile,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count scrapes for %s", csvFile)
}

func (s *SQLiteStore) DeleteByFile(ctx context.Context, csvFile string) (int64, int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM stav WHERE scrape_id IN (SELECT scrape_id FROM scrapes WHERE csv_file = ?)`,
		csvFile,
	)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "sqlite: delete facts for %s", csvFile)
	}
	facts, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM scrapes WHERE csv_file = ?`, csvFile)
	if err != nil {
		return facts, 0, eris.Wrapf(err, "sqlite: delete scrapes for %s", csvFile)
	}
	scrapes, _ := res.RowsAffected()
	return facts, scrapes, nil
}

func (s *SQLiteStore) AppendFact(ctx context.Context, f model.Fact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stav (scrape_id, geounit_id, vtime, attr, val, csv_row, csv_col)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ScrapeID, f.GeoUnitID, f.ValidTime.Format(sqliteDate), f.Attr, f.Value, f.CSVRow, f.CSVCol,
	)
	if err != nil {
		if isConstraint(err) {
			return &ConflictError{Op: "append fact", Err: err}
		}
		return eris.Wrap(err, "sqlite: append fact")
	}
	return nil
}

func (s *SQLiteStore) CountFacts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM stav`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count facts")
}

func (s *SQLiteStore) ListFacts(ctx context.Context, scrapeID int64) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scrape_id, geounit_id, vtime, attr, val, csv_row, csv_col
		 FROM stav WHERE scrape_id = ? ORDER BY csv_row, attr`,
		scrapeID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list facts for scrape %d", scrapeID)
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		var f model.Fact
		var vtime string
		var val, col sql.NullString
		var row sql.NullInt64
		if err := rows.Scan(&f.ScrapeID, &f.GeoUnitID, &vtime, &f.Attr, &val, &row, &col); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		if f.ValidTime, err = time.Parse(sqliteDate, vtime); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse vtime %q", vtime)
		}
		f.Value = val.String
		f.CSVRow = int(row.Int64)
		f.CSVCol = col.String
		facts = append(facts, f)
	}
	return facts, eris.Wrap(rows.Err(), "sqlite: list facts iterate")
}

func (s *SQLiteStore) StartLoad(ctx context.Context, file string, mode model.Mode) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO load_runs (id, csv_file, mode, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, file, string(mode), string(model.LoadStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start load for %s", file)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteLoad(ctx context.Context, id string, summary *model.LoadSummary) error {
	return s.finishLoad(ctx, id, model.LoadStatusComplete, "", summary)
}

func (s *SQLiteStore) FailLoad(ctx context.Context, id string, errMsg string, summary *model.LoadSummary) error {
	return s.finishLoad(ctx, id, model.LoadStatusFailed, errMsg, summary)
}

func (s *SQLiteStore) finishLoad(ctx context.Context, id string, status model.LoadStatus, errMsg string, summary *model.LoadSummary) error {
	var summaryJSON any
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal load summary")
		}
		summaryJSON = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE load_runs SET status = ?, completed_at = ?, summary = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), summaryJSON, nullable(errMsg), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish load %s", id)
	}
	return checkRowsAffected(res, "load run", id)
}

func (s *SQLiteStore) ListLoads(ctx context.Context, limit int) ([]model.LoadRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, csv_file, mode, status, started_at, completed_at, summary, error
		 FROM load_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list loads")
	}
	defer rows.Close()

	var runs []model.LoadRun
	for rows.Next() {
		r, err := scanLoadRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list loads iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLoadRun(row scannable) (*model.LoadRun, error) {
	var r model.LoadRun
	var mode, status string
	var completedAt sql.NullTime
	var summaryJSON, errStr sql.NullString

	if err := row.Scan(&r.ID, &r.File, &mode, &status, &r.StartedAt, &completedAt, &summaryJSON, &errStr); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan load run")
	}
	r.Mode = model.Mode(mode)
	r.Status = model.LoadStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	r.Error = errStr.String
	if summaryJSON.Valid {
		r.Summary = &model.LoadSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal load summary")
		}
	}
	return &r, nil
}

// isConstraint reports whether err is a SQLite constraint violation.
func isConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
