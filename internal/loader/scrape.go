package loader

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-loader/internal/model"
	"github.com/sells-group/covid-loader/internal/store"
)

// scrapeKey is the natural key of a scrape.
type scrapeKey struct {
	provider string
	uri      string
	ts       time.Time
}

func (k scrapeKey) equal(o scrapeKey) bool {
	return k.provider == o.provider && k.uri == o.uri && k.ts.Equal(o.ts)
}

// vendorFor derives vendor and dataset ids. Daily-report extracts get a
// per-state vendor; every other provider is its own vendor and dataset.
func vendorFor(provider, defaultProvider, state string) (vendor, dataset string) {
	if provider == defaultProvider {
		vendor = "US^" + state
		return vendor, vendor + ":COVID19"
	}
	return provider, provider
}

// switchProvider registers the row's provider, vendor and dataset.
func (r *run) switchProvider(ctx context.Context, st State, row Row) (State, error) {
	st.provider = row.Get("provider")
	st.vendor, st.dataset = vendorFor(st.provider, r.l.defaultProvider, row.Get("state"))

	log := r.log.With(zap.String("provider", st.provider), zap.String("dataset", st.dataset))

	if _, err := r.l.store.CreateProvider(ctx, st.provider); err != nil && !r.conflict(err, log) {
		return st, eris.Wrapf(err, "loader: create provider %s", st.provider)
	}
	if _, err := r.l.store.CreateVendor(ctx, model.Vendor{ID: st.vendor, Name: st.vendor}); err != nil && !r.conflict(err, log) {
		return st, eris.Wrapf(err, "loader: create vendor %s", st.vendor)
	}
	ds := model.Dataset{ID: st.dataset, VendorID: st.vendor, Name: st.dataset}
	if _, err := r.l.store.CreateDataset(ctx, ds); err != nil && !r.conflict(err, log) {
		return st, eris.Wrapf(err, "loader: create dataset %s", st.dataset)
	}
	log.Debug("provider switched")
	return st, nil
}

// resolveScrape finds or creates the scrape for the row. The last key and id
// are cached in the state so consecutive rows of one scrape cost nothing.
func (r *run) resolveScrape(ctx context.Context, st State, row Row, access time.Time, rowNo int) (State, error) {
	key := scrapeKey{provider: st.provider, uri: row.Get("url"), ts: access}
	if st.scrapeID != 0 && key.equal(st.scrape) {
		return st, nil
	}

	id, found, err := r.l.store.FindScrape(ctx, key.provider, key.uri, key.ts)
	if err != nil {
		return st, eris.Wrapf(err, "loader: find scrape for row %d", rowNo)
	}
	if !found {
		id, _, err = r.l.store.CreateScrape(ctx, model.Scrape{
			ProviderID: key.provider,
			URI:        key.uri,
			DatasetID:  st.dataset,
			ScrapedAt:  key.ts,
			Doc:        row.Get("page"),
			CSVFile:    r.file,
			CSVRow:     rowNo,
		})
		if err != nil {
			return st, eris.Wrapf(err, "loader: create scrape for row %d", rowNo)
		}
	}
	st.scrape = key
	st.scrapeID = id
	return st, nil
}

func (r *run) ensureGeoUnit(ctx context.Context, id, resolution string, rowNo int) error {
	if r.geoUnits[id] {
		return nil
	}
	if _, err := r.l.store.CreateGeoUnit(ctx, model.GeoUnit{ID: id, Resolution: resolution}); err != nil {
		if r.conflict(err, r.log.With(zap.Int("row", rowNo))) {
			return nil
		}
		return eris.Wrapf(err, "loader: create geounit %s", id)
	}
	r.geoUnits[id] = true
	return nil
}

// ensureAttribute registers key in dataset. Keys containing "percent" are
// tagged with a "%" type.
func (r *run) ensureAttribute(ctx context.Context, dataset, key string, rowNo int) error {
	memo := dataset + "\x00" + key
	if r.attrs[memo] {
		return nil
	}
	a := model.Attribute{DatasetID: dataset, Key: key, Name: key}
	if strings.Contains(key, "percent") {
		a.Meta = map[string]any{"type": "%"}
	}
	if _, err := r.l.store.CreateAttribute(ctx, a); err != nil {
		if r.conflict(err, r.log.With(zap.Int("row", rowNo))) {
			return nil
		}
		return eris.Wrapf(err, "loader: create attribute %s", key)
	}
	r.attrs[memo] = true
	return nil
}

// conflict reports whether err is a storage conflict, logging it if so.
// Conflicts only cost the statement that raised them.
func (r *run) conflict(err error, log *zap.Logger) bool {
	if !errors.Is(err, store.ErrConflict) {
		return false
	}
	r.sum.Warnings++
	log.Warn("storage conflict ignored", zap.String("reason", "conflict"), zap.Error(err))
	return true
}
