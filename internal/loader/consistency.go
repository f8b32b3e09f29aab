package loader

import (
	"strconv"
	"time"
)

// SimpleAttrs are the fixed metric columns, in vector order.
var SimpleAttrs = []string{
	"cases", "deaths", "presumptive", "recovered", "tested", "hospitalized",
	"negative", "severe", "monitored", "no_longer_monitored", "pending",
	"active", "inconclusive", "quarantined",
}

// identity is the (scrape, geounit, valid time) tuple shared by the rows of
// one demographic group.
type identity struct {
	scrapeID  int64
	geoUnitID string
	vtime     time.Time
}

func (id identity) equal(o identity) bool {
	return id.scrapeID == o.scrapeID && id.geoUnitID == o.geoUnitID && id.vtime.Equal(o.vtime)
}

// vector is an identity tuple followed by the row's simple attribute values.
type vector []string

func simpleVector(id identity, row Row) vector {
	v := make(vector, 0, 3+len(SimpleAttrs))
	v = append(v, strconv.FormatInt(id.scrapeID, 10), id.geoUnitID, id.vtime.Format(time.DateOnly))
	for _, a := range SimpleAttrs {
		v = append(v, row.Get(a))
	}
	return v
}

// sameIgnoringEmpty compares two vectors position by position, skipping
// positions empty in either one.
func sameIgnoringEmpty(a, b vector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == "" || b[i] == "" {
			continue
		}
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
