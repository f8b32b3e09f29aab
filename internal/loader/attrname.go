package loader

import "strings"

// namePart is one segment of an attribute key: a literal or a column whose
// value is substituted.
type namePart struct {
	text    string
	literal bool
}

func lit(s string) namePart { return namePart{text: s, literal: true} }
func col(c string) namePart { return namePart{text: c} }

// synthesizeName joins parts with underscores. Column parts resolve to the
// lower-cased row value with whitespace collapsed. With checkPercent set a
// "percent" segment is appended when the percent column is "yes"; any other
// non-empty percent value sets badPercent and leaves the key unchanged.
func synthesizeName(row Row, checkPercent bool, parts ...namePart) (name string, badPercent bool) {
	segs := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if p.literal {
			segs = append(segs, strings.ToLower(strings.TrimSpace(p.text)))
			continue
		}
		segs = append(segs, collapse(strings.ToLower(row.Get(p.text))))
	}
	if checkPercent && row.Has("percent") {
		if strings.EqualFold(row.Get("percent"), "yes") {
			segs = append(segs, "percent")
		} else {
			badPercent = true
		}
	}
	return strings.Join(segs, "_"), badPercent
}

// collapse trims s and folds internal whitespace runs to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
