package loader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		flags      groupFlags
		inHospital bool
		want       Group
		header     bool
	}{
		{"no columns", groupFlags{}, false, GroupNone, false},
		{"other only", groupFlags{other: true, otherValue: true}, false, GroupNone, false},
		{"age", groupFlags{ageRange: true}, false, GroupAge, false},
		{"age sex", groupFlags{ageRange: true, sex: true, other: true}, false, GroupAgeSex, false},
		{"age other", groupFlags{ageRange: true, other: true}, false, GroupAgeOther, false},
		{"age beats sentinel", groupFlags{ageRange: true, other: true, sentinel: true}, false, GroupAgeOther, false},
		{"sex", groupFlags{sex: true}, false, GroupSex, false},
		{"sex other", groupFlags{sex: true, other: true}, false, GroupSexOther, false},
		{"enter hospital", groupFlags{other: true, otherValue: true, sentinel: true}, false, GroupHospital, true},
		{"stay hospital", groupFlags{ageRange: true, sex: true}, true, GroupHospital, false},
		{"next facility", groupFlags{other: true, sentinel: true}, true, GroupHospital, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, header := classify(tt.flags, tt.inHospital)
			assert.Equal(t, tt.want, g)
			assert.Equal(t, tt.header, header)
		})
	}
}

func TestClassify_TotalOverAllFlags(t *testing.T) {
	t.Parallel()

	valid := map[Group]bool{
		GroupNone: true, GroupAge: true, GroupAgeSex: true, GroupAgeOther: true,
		GroupSex: true, GroupSexOther: true, GroupHospital: true,
	}
	for mask := range 1 << 6 {
		f := groupFlags{
			ageRange:   mask&1 != 0,
			sex:        mask&2 != 0,
			other:      mask&4 != 0,
			otherValue: mask&8 != 0,
			sentinel:   mask&16 != 0,
		}
		inHospital := mask&32 != 0

		g1, h1 := classify(f, inHospital)
		g2, h2 := classify(f, inHospital)
		assert.True(t, valid[g1], "mask %b gave %v", mask, g1)
		assert.Equal(t, g1, g2)
		assert.Equal(t, h1, h2)
		if h1 {
			assert.Equal(t, GroupHospital, g1)
		}
	}
}

func TestGroup_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "age.sex", GroupAgeSex.String())
	assert.Equal(t, "other.hospital", GroupHospital.String())
	assert.Equal(t, "unknown", Group(42).String())
}

func TestNextGroupRow(t *testing.T) {
	t.Parallel()

	day := time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)
	a := identity{scrapeID: 1, geoUnitID: "US^NY", vtime: day}
	b := identity{scrapeID: 1, geoUnitID: "US^NJ", vtime: day}

	assert.Equal(t, 0, nextGroupRow(nil, a, GroupAge, 7), "first row")
	assert.Equal(t, 1, nextGroupRow(&a, a, GroupAge, 0))
	assert.Equal(t, 4, nextGroupRow(&a, a, GroupSex, 3))
	assert.Equal(t, 0, nextGroupRow(&a, b, GroupAge, 3), "identity changed")
	assert.Equal(t, 0, nextGroupRow(&a, a, GroupNone, 3), "no group")

	sameDayOtherZone := identity{scrapeID: 1, geoUnitID: "US^NY", vtime: day.In(time.FixedZone("X", 3600))}
	assert.Equal(t, 1, nextGroupRow(&a, sameDayOtherZone, GroupAge, 0))
}
