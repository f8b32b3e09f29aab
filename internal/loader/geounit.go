package loader

import "strings"

// ResolutionHospital is forced on facility geounits.
const ResolutionHospital = "hospital"

// geoUnitID builds the hierarchical geounit id. Non-empty country, state and
// county are joined by "^"; region and facility follow, each after "$".
// Every part is upper-cased with whitespace collapsed so equal inputs that
// differ only in case or spacing map to the same id.
func geoUnitID(country, state, county, region, facility string, hospital bool) string {
	var parts []string
	for _, p := range []string{country, state, county} {
		if p = norm(p); p != "" {
			parts = append(parts, p)
		}
	}
	id := strings.Join(parts, "^")
	if r := norm(region); r != "" {
		id += "$" + r
	}
	if hospital {
		id += "$" + norm(facility)
	}
	return id
}

func norm(s string) string {
	return strings.ToUpper(collapse(s))
}
