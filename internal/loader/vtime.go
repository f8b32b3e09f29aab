package loader

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"
)

// dateOf truncates t to midnight UTC of its own calendar date.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// parseAccessTime parses the free-form fetch timestamp of a row.
func parseAccessTime(s string) (time.Time, error) {
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "unparseable time in 'access_time': %q", s)
	}
	return t, nil
}

// resolveValidTime picks the observation date of a row. Precedence: a
// structured "updated" value, free-form "updated" text, the previous row's
// date, then the date of the access time. prev is nil for the first row.
func resolveValidTime(updated string, access time.Time, prev *identity) (time.Time, error) {
	switch {
	case updated == "" && prev != nil:
		return prev.vtime, nil
	case strings.HasPrefix(updated, "{"):
		return parseStructuredDate(updated)
	case updated != "":
		t, err := dateparse.ParseAny(updated)
		if err != nil {
			return time.Time{}, eris.Wrapf(err, "unparseable time in 'updated': %q", updated)
		}
		return dateOf(t), nil
	default:
		return dateOf(access), nil
	}
}

// parseStructuredDate reads {"year":2020,"month":4,"day":1}. Single quotes
// are accepted in place of double quotes.
func parseStructuredDate(s string) (time.Time, error) {
	var d struct {
		Year  *int `json:"year"`
		Month *int `json:"month"`
		Day   *int `json:"day"`
	}
	if err := json.Unmarshal([]byte(strings.ReplaceAll(s, "'", `"`)), &d); err != nil {
		return time.Time{}, eris.Wrapf(err, "unparseable 'updated' JSON: %q", s)
	}
	if d.Year == nil || d.Month == nil || d.Day == nil {
		return time.Time{}, eris.Errorf("incomplete 'updated' JSON: %q", s)
	}
	t := time.Date(*d.Year, time.Month(*d.Month), *d.Day, 0, 0, 0, 0, time.UTC)
	if t.Year() != *d.Year || int(t.Month()) != *d.Month || t.Day() != *d.Day {
		return time.Time{}, eris.Errorf("invalid date in 'updated' JSON: %q", s)
	}
	return t, nil
}
