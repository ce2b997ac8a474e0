// Package postgis renders geometry SQL fragments for PostGIS.
package postgis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/pgwfs/internal/core/filter"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
)

// ST_AsGML option bits.
const (
	gmlLongCRS     = 1
	gmlNoDimension = 2
	gmlLatLonOrder = 16
)

// Engine is stateless; the zero value is ready to use.
type Engine struct{}

var predicates = map[filter.SpatialOp]string{
	filter.OpEquals:     "ST_Equals",
	filter.OpDisjoint:   "ST_Disjoint",
	filter.OpTouches:    "ST_Touches",
	filter.OpWithin:     "ST_Within",
	filter.OpOverlaps:   "ST_Overlaps",
	filter.OpCrosses:    "ST_Crosses",
	filter.OpIntersects: "ST_Intersects",
	filter.OpContains:   "ST_Contains",
	filter.OpBBOX:       "ST_Intersects",
}

func (Engine) GeomFromText(wkt string, srid int) string {
	return fmt.Sprintf("ST_GeomFromText(%s, %d)", filter.Quote(wkt), srid)
}

// Transform is a no-op when either side has no usable SRID.
func (Engine) Transform(expr string, srcSRID, dstSRID int) string {
	if srcSRID == dstSRID || srcSRID <= 0 || dstSRID <= 0 {
		return expr
	}
	return fmt.Sprintf("ST_Transform(%s, %d)", expr, dstSRID)
}

func (Engine) Predicate(op filter.SpatialOp, column, geom string, distance float64) string {
	switch op {
	case filter.OpDWithin:
		return fmt.Sprintf("ST_DWithin(%s, %s, %s)", column, geom, num(distance))
	case filter.OpBeyond:
		return fmt.Sprintf("NOT ST_DWithin(%s, %s, %s)", column, geom, num(distance))
	}
	fn, ok := predicates[op]
	if !ok {
		fn = "ST_Intersects"
	}
	return fmt.Sprintf("%s(%s, %s)", fn, column, geom)
}

// Envelope builds a rectangle in srid.
func (Engine) Envelope(b orb.Bound, srid int) string {
	return fmt.Sprintf("ST_MakeEnvelope(%s, %s, %s, %s, %d)",
		num(b.Min[0]), num(b.Min[1]), num(b.Max[0]), num(b.Max[1]), srid)
}

// Render serializes a geometry column for output. The column is cast to
// geometry and transformed when the output SRID differs from the layer's.
func (e Engine) Render(column string, f model.Format, layerSRID int, out model.SRS, precision int) string {
	g := e.Transform(filter.Ident(column)+"::geometry", layerSRID, out.SRID)
	switch f {
	case model.FormatGML212:
		return fmt.Sprintf("ST_AsGML(2, %s, %d)", g, precision)
	case model.FormatGeoJSON:
		return fmt.Sprintf("ST_AsGeoJSON(%s, %d)", g, precision)
	default:
		return fmt.Sprintf("ST_AsGML(3, %s, %d, %d)", g, precision, gmlOptions(out))
	}
}

func gmlOptions(s model.SRS) int {
	opts := gmlNoDimension
	if s.LongForm {
		opts |= gmlLongCRS
	}
	if s.ReverseAxis {
		opts |= gmlLatLonOrder
	}
	return opts
}

// ValidGeometrySQL is a statement reporting whether wkt is valid.
func (e Engine) ValidGeometrySQL(wkt string, srid int) string {
	return "SELECT ST_IsValid(" + e.GeomFromText(wkt, srid) + ")"
}

// ExtentSQL computes the transformed extent of column over a FROM/WHERE
// tail as xmin, ymin, xmax, ymax.
func (e Engine) ExtentSQL(column string, layerSRID, outSRID int, fromWhere string) string {
	g := e.Transform(filter.Ident(column)+"::geometry", layerSRID, outSRID)
	var b strings.Builder
	b.WriteString("SELECT ST_XMin(ext), ST_YMin(ext), ST_XMax(ext), ST_YMax(ext) FROM (SELECT ST_Extent(")
	b.WriteString(g)
	b.WriteString(") AS ext ")
	b.WriteString(fromWhere)
	b.WriteString(") AS e")
	return b.String()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
