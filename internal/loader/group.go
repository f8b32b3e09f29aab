package loader

// Group is the demographic grouping a row belongs to.
type Group int

const (
	GroupNone Group = iota
	GroupAge
	GroupAgeSex
	GroupAgeOther
	GroupSex
	GroupSexOther
	GroupHospital
)

func (g Group) String() string {
	switch g {
	case GroupNone:
		return "none"
	case GroupAge:
		return "age"
	case GroupAgeSex:
		return "age.sex"
	case GroupAgeOther:
		return "age.other"
	case GroupSex:
		return "sex"
	case GroupSexOther:
		return "sex.other"
	case GroupHospital:
		return "other.hospital"
	default:
		return "unknown"
	}
}

// groupFlags holds the column-presence facts classification depends on.
type groupFlags struct {
	ageRange   bool
	sex        bool
	other      bool
	otherValue bool
	// sentinel is true when "other" holds the facility header marker.
	sentinel bool
}

func flagsOf(row Row, sentinel string) groupFlags {
	return groupFlags{
		ageRange:   row.Has("age_range"),
		sex:        row.Has("sex"),
		other:      row.Has("other"),
		otherValue: row.Has("other_value"),
		sentinel:   row.Has("other") && row.Get("other") == sentinel,
	}
}

// classify assigns a row to a group. header is true for a facility header
// row, which resets the group counter and carries no values. Once in
// GroupHospital a file stays there.
func classify(f groupFlags, inHospital bool) (g Group, header bool) {
	switch {
	case inHospital:
		return GroupHospital, f.sentinel
	case f.ageRange && f.sex:
		return GroupAgeSex, false
	case f.ageRange && f.other:
		return GroupAgeOther, false
	case f.ageRange:
		return GroupAge, false
	case f.sex && f.other:
		return GroupSexOther, false
	case f.sex:
		return GroupSex, false
	case f.sentinel:
		return GroupHospital, true
	default:
		return GroupNone, false
	}
}

// nextGroupRow returns the group-row counter for the current row. It is 0
// when the identity tuple changed or the row has no group, otherwise the
// previous counter plus one.
func nextGroupRow(prev *identity, cur identity, g Group, counter int) int {
	if prev == nil || !prev.equal(cur) || g == GroupNone {
		return 0
	}
	return counter + 1
}
