package serialize

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/store"
	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
)

type geoJSONWriter struct {
	bw      *bufio.Writer
	req     *wfs.Request
	doc     Document
	written int
}

// jsonFeature keeps a feature without geometry as "geometry": null.
type jsonFeature struct {
	Type       string             `json:"type"`
	ID         string             `json:"id,omitempty"`
	Geometry   *geojson.Geometry  `json:"geometry"`
	Properties geojson.Properties `json:"properties"`
}

func (j *geoJSONWriter) Begin(extent *orb.Bound) error {
	_, _ = j.bw.WriteString(`{"type":"FeatureCollection"`)
	if j.doc.DisplayBBox && extent != nil {
		p := j.doc.Precision(j.req.SRS)
		_, _ = j.bw.WriteString(`,"bbox":[` +
			Coord(extent.Min[0], p) + "," + Coord(extent.Min[1], p) + "," +
			Coord(extent.Max[0], p) + "," + Coord(extent.Max[1], p) + "]")
	}
	_, _ = j.bw.WriteString(`,"features":[`)
	return j.bw.Flush()
}

func (j *geoJSONWriter) WriteLayer(l model.LayerSchema, rows store.Rows) (int, error) {
	fields := rows.FieldNames()
	cols := columnsFor(l, fields)
	pk := pkIndex(l, fields)
	n := 0
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return n, fmt.Errorf("read %s row: %w", l.Name, err)
		}
		f, err := j.feature(l, fields, cols, pk, vals)
		if err != nil {
			return n, err
		}
		b, err := json.Marshal(f)
		if err != nil {
			return n, fmt.Errorf("encode %s feature: %w", l.Name, err)
		}
		if j.written > 0 {
			_ = j.bw.WriteByte(',')
		}
		if _, err := j.bw.Write(b); err != nil {
			return n, err
		}
		j.written++
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("read %s rows: %w", l.Name, err)
	}
	return n, j.bw.Flush()
}

func (j *geoJSONWriter) feature(l model.LayerSchema, fields []string, cols []model.Column, pk int, vals []any) (jsonFeature, error) {
	f := jsonFeature{Type: "Feature", Properties: geojson.Properties{}}
	var geoms []string
	for i, name := range fields {
		if i >= len(vals) {
			break
		}
		if l.IsGeometry(name) {
			if s, ok := Text(cols[i], vals[i]); ok {
				geoms = append(geoms, s)
			}
			continue
		}
		if i == pk {
			if id, ok := Text(cols[i], vals[i]); ok {
				f.ID = l.Name + "." + id
			}
			if !j.doc.ExposePK {
				continue
			}
		}
		if name == "boundedBy" {
			continue
		}
		if v, ok := JSONValue(cols[i], vals[i]); ok {
			f.Properties[name] = v
		}
	}
	g, err := Geometry(geoms)
	if err != nil {
		return f, fmt.Errorf("decode %s geometry: %w", l.Name, err)
	}
	f.Geometry = g
	return f, nil
}

// Geometry decodes the GeoJSON geometries of one feature. None yields nil,
// several are wrapped in a GeometryCollection.
func Geometry(raw []string) (*geojson.Geometry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	parts := make([]*geojson.Geometry, len(raw))
	for i, s := range raw {
		g, err := geojson.UnmarshalGeometry([]byte(s))
		if err != nil {
			return nil, err
		}
		parts[i] = g
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	coll := make(orb.Collection, len(parts))
	for i, g := range parts {
		coll[i] = g.Geometry()
	}
	return geojson.NewGeometry(coll), nil
}

func (j *geoJSONWriter) End() error {
	_, _ = j.bw.WriteString("]}\n")
	return j.bw.Flush()
}
