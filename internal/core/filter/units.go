package filter

import (
	"fmt"
	"strings"
)

type unitKind int

const (
	// unitLayer leaves the distance in the layer CRS units.
	unitLayer unitKind = iota
	unitMetric
	unitDegree
)

// metresPer maps distance unit names and EPSG UoM codes to metres.
var metresPer = map[string]float64{
	"m": 1, "meter": 1, "meters": 1, "metre": 1, "metres": 1, "9001": 1,
	"km": 1000, "kilometer": 1000, "kilometers": 1000, "kilometre": 1000, "kilometres": 1000, "9036": 1000,
	"ft": 0.3048, "foot": 0.3048, "feet": 0.3048, "9002": 0.3048,
	"mi": 1609.344, "mile": 1609.344, "miles": 1609.344, "9093": 1609.344,
	"nmi": 1852, "nauticalmile": 1852, "9030": 1852,
}

var degreeUnits = map[string]bool{"deg": true, "degree": true, "degrees": true, "9102": true}

// distanceUnit reads a Distance units attribute. Accepted forms are plain
// names ("m", "km"), "#metre" style fragments and UoM URNs such as
// urn:ogc:def:uom:EPSG::9001.
func distanceUnit(units string) (float64, unitKind, error) {
	u := strings.ToLower(strings.TrimSpace(units))
	if i := strings.LastIndexAny(u, "#:/"); i >= 0 {
		u = u[i+1:]
	}
	if u == "" {
		return 1, unitLayer, nil
	}
	if f, ok := metresPer[u]; ok {
		return f, unitMetric, nil
	}
	if degreeUnits[u] {
		return 1, unitDegree, nil
	}
	return 0, unitLayer, fmt.Errorf("%w: unknown distance units %q", ErrFilter, units)
}
