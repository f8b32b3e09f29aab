package loader

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Range is an inclusive span of zero-based data row numbers.
type Range struct {
	Lo, Hi int
}

// Ranges is an ascending, non-overlapping list of row ranges. A nil Ranges
// admits every row.
type Ranges []Range

// ParseRanges parses a list such as "3,10-20" into Ranges.
func ParseRanges(s string) (Ranges, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out Ranges
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		lo, hi, isSpan := strings.Cut(tok, "-")

		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, eris.Wrapf(err, "loader: parse row range %q", tok)
		}
		b := a
		if isSpan {
			if b, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, eris.Wrapf(err, "loader: parse row range %q", tok)
			}
		}
		if a < 0 || b < a {
			return nil, eris.Errorf("loader: invalid row range %q", tok)
		}
		if n := len(out); n > 0 && a <= out[n-1].Hi {
			return nil, eris.Errorf("loader: row range %q overlaps or precedes %d-%d", tok, out[n-1].Lo, out[n-1].Hi)
		}
		out = append(out, Range{Lo: a, Hi: b})
	}
	return out, nil
}

// admit decides whether rowNo is processed. Row numbers must be presented in
// ascending order. cursor is the index of the current range; the advanced
// cursor is returned. done is true once every range has been passed.
func (rs Ranges) admit(cursor, rowNo int) (ok bool, next int, done bool) {
	for cursor < len(rs) && rowNo > rs[cursor].Hi {
		cursor++
	}
	if cursor >= len(rs) {
		return false, cursor, true
	}
	return rowNo >= rs[cursor].Lo, cursor, false
}

func (rs Ranges) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		if r.Lo == r.Hi {
			parts[i] = strconv.Itoa(r.Lo)
		} else {
			parts[i] = strconv.Itoa(r.Lo) + "-" + strconv.Itoa(r.Hi)
		}
	}
	return strings.Join(parts, ",")
}
