package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/covid-loader/internal/db"
	"github.com/sells-group/covid-loader/internal/model"
)

// DefaultSchema is the Postgres schema the loader writes to when none is
// configured.
const DefaultSchema = "staging"

// PostgresStore implements Store using pgxpool. All tables live in a single
// schema.
type PostgresStore struct {
	pool    db.Pool
	schema  string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString, schema string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := NewPostgresWithPool(pool, schema)
	s.closeFn = pool.Close
	return s, nil
}

// NewPostgresWithPool wraps an existing pool. An empty schema selects
// DefaultSchema.
func NewPostgresWithPool(pool db.Pool, schema string) *PostgresStore {
	if schema == "" {
		schema = DefaultSchema
	}
	return &PostgresStore{pool: pool, schema: schema}
}

// Close releases the pool if this store opened it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) table(name string) string {
	return db.Table(s.schema, name)
}

// insertIgnore runs a create-if-absent insert and maps the affected row
// count onto a CreateResult.
func (s *PostgresStore) insertIgnore(ctx context.Context, op, table string, cols []string, args ...any) (CreateResult, error) {
	tag, err := s.pool.Exec(ctx, db.InsertIgnore(s.table(table), cols), args...)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return 0, &ConflictError{Op: op, Err: err}
		}
		return 0, eris.Wrapf(err, "postgres: %s", op)
	}
	if tag.RowsAffected() == 0 {
		return Existed, nil
	}
	return Created, nil
}

func (s *PostgresStore) CreateProvider(ctx context.Context, id string) (CreateResult, error) {
	return s.insertIgnore(ctx, "create provider", "providers", []string{"provider_id"}, id)
}

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	var p model.Provider
	err := s.pool.QueryRow(ctx,
		`SELECT provider_id FROM `+s.table("providers")+` WHERE provider_id = $1`, id,
	).Scan(&p.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get provider %s", id)
	}
	return &p, nil
}

func (s *PostgresStore) CreateVendor(ctx context.Context, v model.Vendor) (CreateResult, error) {
	return s.insertIgnore(ctx, "create vendor", "vendors", []string{"vendor_id", "name"}, v.ID, v.Name)
}

func (s *PostgresStore) GetVendor(ctx context.Context, id string) (*model.Vendor, error) {
	var v model.Vendor
	var name *string
	err := s.pool.QueryRow(ctx,
		`SELECT vendor_id, name FROM `+s.table("vendors")+` WHERE vendor_id = $1`, id,
	).Scan(&v.ID, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get vendor %s", id)
	}
	if name != nil {
		v.Name = *name
	}
	return &v, nil
}

func (s *PostgresStore) CreateDataset(ctx context.Context, d model.Dataset) (CreateResult, error) {
	return s.insertIgnore(ctx, "create dataset", "datasets",
		[]string{"dataset_id", "vendor_id", "name"}, d.ID, d.VendorID, d.Name)
}

func (s *PostgresStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	var d model.Dataset
	var name *string
	err := s.pool.QueryRow(ctx,
		`SELECT dataset_id, vendor_id, name FROM `+s.table("datasets")+` WHERE dataset_id = $1`, id,
	).Scan(&d.ID, &d.VendorID, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dataset %s", id)
	}
	if name != nil {
		d.Name = *name
	}
	return &d, nil
}

func (s *PostgresStore) CreateGeoUnit(ctx context.Context, g model.GeoUnit) (CreateResult, error) {
	return s.insertIgnore(ctx, "create geounit", "geounits",
		[]string{"geounit_id", "resolution"}, g.ID, nullable(g.Resolution))
}

func (s *PostgresStore) GetGeoUnit(ctx context.Context, id string) (*model.GeoUnit, error) {
	var g model.GeoUnit
	var res *string
	err := s.pool.QueryRow(ctx,
		`SELECT geounit_id, resolution FROM `+s.table("geounits")+` WHERE geounit_id = $1`, id,
	).Scan(&g.ID, &res)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get geounit %s", id)
	}
	if res != nil {
		g.Resolution = *res
	}
	return &g, nil
}

func (s *PostgresStore) CreateAttribute(ctx context.Context, a model.Attribute) (CreateResult, error) {
	var meta []byte
	if len(a.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(a.Meta); err != nil {
			return 0, eris.Wrap(err, "postgres: marshal attribute meta")
		}
	}
	return s.insertIgnore(ctx, "create attribute", "attributes",
		[]string{"dataset_id", "attr", "name", "meta"}, a.DatasetID, a.Key, a.Name, meta)
}

func (s *PostgresStore) GetAttribute(ctx context.Context, datasetID, key string) (*model.Attribute, error) {
	a := model.Attribute{DatasetID: datasetID}
	var name *string
	var meta []byte
	err := s.pool.QueryRow(ctx,
		`SELECT attr, name, meta FROM `+s.table("attributes")+` WHERE dataset_id = $1 AND attr = $2`,
		datasetID, key,
	).Scan(&a.Key, &name, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get attribute %s/%s", datasetID, key)
	}
	if name != nil {
		a.Name = *name
	}
	if meta != nil {
		if err := json.Unmarshal(meta, &a.Meta); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attribute meta")
		}
	}
	return &a, nil
}

func (s *PostgresStore) FindScrape(ctx context.Context, providerID, uri string, scrapedAt time.Time) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT scrape_id FROM `+s.table("scrapes")+`
		 WHERE provider_id = $1 AND uri = $2 AND scraped_ts = $3`,
		providerID, uri, scrapedAt.UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: find scrape")
	}
	return id, true, nil
}

func (s *PostgresStore) CreateScrape(ctx context.Context, sc model.Scrape) (int64, CreateResult, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("scrapes")+` (provider_id, uri, dataset_id, scraped_ts, doc, csv_file, csv_row)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (provider_id, uri, scraped_ts) DO NOTHING
		 RETURNING scrape_id`,
		sc.ProviderID, sc.URI, nullable(sc.DatasetID), sc.ScrapedAt.UTC(), nullable(sc.Doc), sc.CSVFile, sc.CSVRow,
	).Scan(&id)
	if err == nil {
		return id, Created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if db.IsForeignKeyViolation(err) {
			return 0, 0, &ConflictError{Op: "create scrape", Err: err}
		}
		return 0, 0, eris.Wrap(err, "postgres: create scrape")
	}

	id, found, err := s.FindScrape(ctx, sc.ProviderID, sc.URI, sc.ScrapedAt)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, eris.Errorf("postgres: scrape %s %s vanished after conflict", sc.ProviderID, sc.URI)
	}
	return id, Existed, nil
}

func (s *PostgresStore) CountScrapesByFile(ctx context.Context, csvFile string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.table("scrapes")+` WHERE csv_file = $1`, csvFile,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count scrapes for %s", csvFile)
}

func (s *PostgresStore) DeleteByFile(ctx context.Context, csvFile string) (int64, int64, error) {
	factTag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table("stav")+` WHERE scrape_id IN (
			SELECT scrape_id FROM `+s.table("scrapes")+` WHERE csv_file = $1)`,
		csvFile,
	)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: delete facts for %s", csvFile)
	}
	scrapeTag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table("scrapes")+` WHERE csv_file = $1`, csvFile,
	)
	if err != nil {
		return factTag.RowsAffected(), 0, eris.Wrapf(err, "postgres: delete scrapes for %s", csvFile)
	}
	return factTag.RowsAffected(), scrapeTag.RowsAffected(), nil
}

func (s *PostgresStore) AppendFact(ctx context.Context, f model.Fact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("stav")+` (scrape_id, geounit_id, vtime, attr, val, csv_row, csv_col)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ScrapeID, f.GeoUnitID, f.ValidTime, f.Attr, f.Value, f.CSVRow, f.CSVCol,
	)
	if err != nil {
		if db.IsUniqueViolation(err) || db.IsForeignKeyViolation(err) {
			return &ConflictError{Op: "append fact", Err: err}
		}
		return eris.Wrap(err, "postgres: append fact")
	}
	return nil
}

func (s *PostgresStore) CountFacts(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table("stav")).Scan(&n)
	return n, eris.Wrap(err, "postgres: count facts")
}

func (s *PostgresStore) ListFacts(ctx context.Context, scrapeID int64) ([]model.Fact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scrape_id, geounit_id, vtime, attr, val, csv_row, csv_col
		 FROM `+s.table("stav")+` WHERE scrape_id = $1 ORDER BY csv_row, attr`,
		scrapeID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list facts for scrape %d", scrapeID)
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		var f model.Fact
		var val, col *string
		var row *int
		if err := rows.Scan(&f.ScrapeID, &f.GeoUnitID, &f.ValidTime, &f.Attr, &val, &row, &col); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		if val != nil {
			f.Value = *val
		}
		if row != nil {
			f.CSVRow = *row
		}
		if col != nil {
			f.CSVCol = *col
		}
		facts = append(facts, f)
	}
	return facts, eris.Wrap(rows.Err(), "postgres: list facts iterate")
}

func (s *PostgresStore) StartLoad(ctx context.Context, file string, mode model.Mode) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("load_runs")+` (id, csv_file, mode, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, file, string(mode), string(model.LoadStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start load for %s", file)
	}
	return id, nil
}

func (s *PostgresStore) CompleteLoad(ctx context.Context, id string, summary *model.LoadSummary) error {
	return s.finishLoad(ctx, id, model.LoadStatusComplete, "", summary)
}

func (s *PostgresStore) FailLoad(ctx context.Context, id string, errMsg string, summary *model.LoadSummary) error {
	return s.finishLoad(ctx, id, model.LoadStatusFailed, errMsg, summary)
}

func (s *PostgresStore) finishLoad(ctx context.Context, id string, status model.LoadStatus, errMsg string, summary *model.LoadSummary) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		if summaryJSON, err = json.Marshal(summary); err != nil {
			return eris.Wrap(err, "postgres: marshal load summary")
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("load_runs")+`
		 SET status = $1, completed_at = $2, summary = $3, error = $4
		 WHERE id = $5`,
		string(status), time.Now().UTC(), summaryJSON, nullable(errMsg), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish load %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("load run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListLoads(ctx context.Context, limit int) ([]model.LoadRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, csv_file, mode, status, started_at, completed_at, summary, error
		 FROM `+s.table("load_runs")+` ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list loads")
	}
	defer rows.Close()

	var runs []model.LoadRun
	for rows.Next() {
		var r model.LoadRun
		var mode, status string
		var summaryJSON []byte
		var errStr *string
		if err := rows.Scan(&r.ID, &r.File, &mode, &status, &r.StartedAt, &r.CompletedAt, &summaryJSON, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan load run")
		}
		r.Mode = model.Mode(mode)
		r.Status = model.LoadStatus(status)
		if errStr != nil {
			r.Error = *errStr
		}
		if summaryJSON != nil {
			r.Summary = &model.LoadSummary{}
			if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal load summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list loads iterate")
}

// nullable maps an empty string onto SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
