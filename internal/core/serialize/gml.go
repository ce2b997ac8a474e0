package serialize

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/store"
	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
)

// FeatureWriter streams one feature collection. Begin writes the header and
// envelope, WriteLayer the features of one layer, End the trailer.
type FeatureWriter interface {
	Begin(extent *orb.Bound) error
	WriteLayer(l model.LayerSchema, rows store.Rows) (int, error)
	End() error
}

// NewFeatureWriter picks the writer for the request's output format.
func NewFeatureWriter(w io.Writer, req *wfs.Request, doc Document) FeatureWriter {
	bw := bufio.NewWriter(w)
	if req.Format == model.FormatGeoJSON {
		return &geoJSONWriter{bw: bw, req: req, doc: doc}
	}
	return &gmlWriter{bw: bw, req: req, doc: doc, gml3: req.Format != model.FormatGML212}
}

type gmlWriter struct {
	bw   *bufio.Writer
	req  *wfs.Request
	doc  Document
	gml3 bool
}

func (g *gmlWriter) Begin(extent *orb.Bound) error {
	_, _ = g.bw.WriteString(xml.Header)
	collectionStart(g.bw, g.req, g.doc)
	_, _ = g.bw.WriteString(">\n")
	if g.doc.DisplayBBox {
		_, _ = g.bw.WriteString("<gml:boundedBy>")
		_, _ = g.bw.WriteString(g.envelope(extent))
		_, _ = g.bw.WriteString("</gml:boundedBy>\n")
	}
	return g.bw.Flush()
}

func (g *gmlWriter) envelope(extent *orb.Bound) string {
	if extent == nil {
		if g.req.Version == model.V100 {
			return "<gml:null>unknown</gml:null>"
		}
		return "<gml:Null>unknown</gml:Null>"
	}
	return Envelope(*extent, g.req.SRS, g.req.Format, g.doc.Precision(g.req.SRS))
}

// Envelope renders b as a GML2 Box or GML3 Envelope in the axis order of s.
func Envelope(b orb.Bound, s model.SRS, f model.Format, precision int) string {
	lo, hi := b.Min, b.Max
	if s.ReverseAxis {
		lo, hi = orb.Point{lo[1], lo[0]}, orb.Point{hi[1], hi[0]}
	}
	x1, y1 := Coord(lo[0], precision), Coord(lo[1], precision)
	x2, y2 := Coord(hi[0], precision), Coord(hi[1], precision)
	if f == model.FormatGML212 {
		return `<gml:Box srsName="` + escape(s.Name()) + `"><gml:coordinates decimal="." cs="," ts=" ">` +
			x1 + "," + y1 + " " + x2 + "," + y2 + "</gml:coordinates></gml:Box>"
	}
	return `<gml:Envelope srsName="` + escape(s.Name()) + `"><gml:lowerCorner>` + x1 + " " + y1 +
		"</gml:lowerCorner><gml:upperCorner>" + x2 + " " + y2 + "</gml:upperCorner></gml:Envelope>"
}

func (g *gmlWriter) WriteLayer(l model.LayerSchema, rows store.Rows) (int, error) {
	fields := rows.FieldNames()
	cols := columnsFor(l, fields)
	pk := pkIndex(l, fields)
	n := 0
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return n, fmt.Errorf("read %s row: %w", l.Name, err)
		}
		if err := g.feature(l, fields, cols, pk, vals); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("read %s rows: %w", l.Name, err)
	}
	return n, g.bw.Flush()
}

func (g *gmlWriter) feature(l model.LayerSchema, fields []string, cols []model.Column, pk int, vals []any) error {
	elem := l.QualifiedName()
	_, _ = g.bw.WriteString("<gml:featureMember>\n<" + elem)
	if pk >= 0 {
		if id, ok := Text(cols[pk], vals[pk]); ok {
			attr := "fid"
			if g.gml3 {
				attr = "gml:id"
			}
			_, _ = g.bw.WriteString(" " + attr + `="` + escape(l.Name+"."+id) + `"`)
		}
	}
	_, _ = g.bw.WriteString(">\n")

	for i, f := range fields {
		if (i == pk && !g.doc.ExposePK) || f == "boundedBy" || i >= len(vals) {
			continue
		}
		s, ok := Text(cols[i], vals[i])
		if !ok {
			continue
		}
		if !l.IsGeometry(f) {
			s = escape(s)
		}
		name := propertyElement(l, f)
		_, _ = g.bw.WriteString("<" + name + ">" + s + "</" + name + ">\n")
	}
	_, err := g.bw.WriteString("</" + elem + ">\n</gml:featureMember>\n")
	return err
}

func (g *gmlWriter) End() error {
	_, _ = g.bw.WriteString("</wfs:FeatureCollection>\n")
	return g.bw.Flush()
}

// collectionStart writes the FeatureCollection start tag up to, not
// including, its closing bracket.
func collectionStart(bw *bufio.Writer, req *wfs.Request, doc Document) {
	_, _ = bw.WriteString("<wfs:FeatureCollection")
	for _, ns := range namespaces(req.Layers) {
		if ns.URI != "" {
			writeAttr(bw, "xmlns:"+ns.Prefix, ns.URI)
		}
	}
	writeAttr(bw, "xmlns:wfs", nsWFS)
	writeAttr(bw, "xmlns:gml", nsGML)
	writeAttr(bw, "xmlns:ogc", nsOGC)
	writeAttr(bw, "xmlns:xsi", nsXSI)
	writeAttr(bw, "xmlns:xsd", nsXSD)
	writeAttr(bw, "xmlns:xlink", nsXLink)
	if req.Version != model.V100 {
		writeAttr(bw, "xmlns:ows", nsOWS)
	}
	writeAttr(bw, "xsi:schemaLocation", doc.schemaLocation(req.Version, req.Format, req.Layers))
}

func writeAttr(bw *bufio.Writer, name, value string) {
	_, _ = bw.WriteString(" " + name + `="` + escape(value) + `"`)
}

// propertyElement is the element name of column in features of l. The
// columns name and description map onto the GML standard properties.
func propertyElement(l model.LayerSchema, column string) string {
	if column == "name" || column == "description" {
		return "gml:" + column
	}
	if l.Prefix == "" {
		return column
	}
	return l.Prefix + ":" + column
}

// columnsFor aligns catalog columns with result fields; unknown fields are
// treated as text.
func columnsFor(l model.LayerSchema, fields []string) []model.Column {
	out := make([]model.Column, len(fields))
	for i, f := range fields {
		c, ok := l.Column(f)
		if !ok {
			c = model.Column{Name: f, Type: model.TypeText}
		}
		out[i] = c
	}
	return out
}

func pkIndex(l model.LayerSchema, fields []string) int {
	if l.PrimaryKey == "" {
		return -1
	}
	return slices.Index(fields, l.PrimaryKey)
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
