package loader

import (
	"context"

	"go.uber.org/zap"
)

type outcome int

const (
	outcomeLoaded outcome = iota
	outcomeSkipped
	outcomeStop
)

// State is the context carried from one row to the next.
type State struct {
	provider string
	vendor   string
	dataset  string

	scrape   scrapeKey
	scrapeID int64

	group    Group
	groupRow int
	facility string

	// prev and prevVector describe the last row that reached extraction.
	prev       *identity
	prevVector vector

	rangeCursor int
}

// step processes one row and returns the state for the next.
func (r *run) step(ctx context.Context, st State, row Row, rowNo int) (State, outcome, error) {
	if len(r.ranges) > 0 {
		ok, cursor, done := r.ranges.admit(st.rangeCursor, rowNo)
		st.rangeCursor = cursor
		if done {
			return st, outcomeStop, nil
		}
		if !ok {
			r.log.Debug("row outside requested ranges", zap.Int("row", rowNo))
			return st, outcomeSkipped, nil
		}
	}

	if row.Empty() {
		r.warn(rowNo, "empty row skipped")
		return st, outcomeSkipped, nil
	}
	if !row.Has("access_time") {
		r.warn(rowNo, "empty 'access_time', row skipped")
		return st, outcomeSkipped, nil
	}
	r.applyDefaults(row)

	var err error
	if row.Get("provider") != st.provider {
		if st, err = r.switchProvider(ctx, st, row); err != nil {
			return st, outcomeSkipped, err
		}
	}

	access, err := parseAccessTime(row.Get("access_time"))
	if err != nil {
		r.warn(rowNo, "unparseable 'access_time', row skipped", zap.Error(err))
		return st, outcomeSkipped, nil
	}
	vtime, err := resolveValidTime(row.Get("updated"), access, st.prev)
	if err != nil {
		r.warn(rowNo, "unparseable 'updated', row skipped", zap.Error(err))
		return st, outcomeSkipped, nil
	}

	if !row.Has("url") {
		r.warn(rowNo, "missing URL, row skipped")
		return st, outcomeSkipped, nil
	}
	if st, err = r.resolveScrape(ctx, st, row, access, rowNo); err != nil {
		return st, outcomeSkipped, err
	}

	group, header := classify(flagsOf(row, r.l.sentinel), st.group == GroupHospital)
	st.group = group
	if header {
		st.facility = row.Get("other_value")
		st.groupRow = 0
		r.log.Debug("facility header", zap.Int("row", rowNo), zap.String("facility", st.facility))
		return st, outcomeLoaded, nil
	}

	resolution := row.Get("resolution")
	hospital := group == GroupHospital
	if hospital {
		resolution = ResolutionHospital
	}
	geoID := geoUnitID(row.Get("country"), row.Get("state"), row.Get("county"), row.Get("region"), st.facility, hospital)
	if err := r.ensureGeoUnit(ctx, geoID, resolution, rowNo); err != nil {
		return st, outcomeSkipped, err
	}

	id := identity{scrapeID: st.scrapeID, geoUnitID: geoID, vtime: vtime}
	st.groupRow = nextGroupRow(st.prev, id, group, st.groupRow)
	vec := simpleVector(id, row)

	x := &extraction{r: r, st: st, row: row, rowNo: rowNo, id: id, vec: vec}
	if err := x.run(ctx); err != nil {
		return st, outcomeSkipped, err
	}

	st.prev = &id
	st.prevVector = vec
	return st, outcomeLoaded, nil
}

// applyDefaults fills the provider and country columns manual extracts omit.
func (r *run) applyDefaults(row Row) {
	if p := row.Get("provider"); p == "" || p == "state" {
		row.Set("provider", r.l.defaultProvider)
	}
	if !row.HasColumn("country") {
		row.Set("country", DefaultCountry)
	}
}
