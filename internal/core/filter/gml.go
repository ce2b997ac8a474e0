package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// decodeGeometry reads a GML 2/3 geometry literal. Box and Envelope are
// returned as polygons so they render through the same WKT path.
func decodeGeometry(e element) (orb.Geometry, string, error) {
	srsName, _ := e.attr("srsName")
	g, err := geometry(e)
	if err != nil {
		return nil, "", err
	}
	return g, strings.TrimSpace(srsName), nil
}

func geometry(e element) (orb.Geometry, error) {
	switch e.XMLName.Local {
	case "Point":
		pts, err := points(e)
		if err != nil {
			return nil, err
		}
		if len(pts) != 1 {
			return nil, fmt.Errorf("%w: Point needs one position", ErrFilter)
		}
		return pts[0], nil
	case "LineString":
		pts, err := points(e)
		if err != nil {
			return nil, err
		}
		if len(pts) < 2 {
			return nil, fmt.Errorf("%w: LineString needs two positions", ErrFilter)
		}
		return orb.LineString(pts), nil
	case "Polygon":
		return polygon(e)
	case "Box", "Envelope":
		return envelope(e)
	case "MultiPoint":
		var mp orb.MultiPoint
		err := members(e, func(g orb.Geometry) error {
			p, ok := g.(orb.Point)
			if !ok {
				return fmt.Errorf("%w: MultiPoint member is %s", ErrFilter, g.GeoJSONType())
			}
			mp = append(mp, p)
			return nil
		})
		return mp, err
	case "MultiLineString", "MultiCurve":
		var ml orb.MultiLineString
		err := members(e, func(g orb.Geometry) error {
			ls, ok := g.(orb.LineString)
			if !ok {
				return fmt.Errorf("%w: MultiLineString member is %s", ErrFilter, g.GeoJSONType())
			}
			ml = append(ml, ls)
			return nil
		})
		return ml, err
	case "MultiPolygon", "MultiSurface":
		var mp orb.MultiPolygon
		err := members(e, func(g orb.Geometry) error {
			p, ok := g.(orb.Polygon)
			if !ok {
				return fmt.Errorf("%w: MultiPolygon member is %s", ErrFilter, g.GeoJSONType())
			}
			mp = append(mp, p)
			return nil
		})
		return mp, err
	default:
		return nil, fmt.Errorf("%w: unsupported geometry %q", ErrFilter, e.XMLName.Local)
	}
}

func members(e element, add func(orb.Geometry) error) error {
	for _, m := range e.Children {
		for _, c := range m.Children {
			g, err := geometry(c)
			if err != nil {
				return err
			}
			if err := add(g); err != nil {
				return err
			}
		}
	}
	return nil
}

func polygon(e element) (orb.Geometry, error) {
	var poly orb.Polygon
	for _, b := range e.Children {
		switch b.XMLName.Local {
		case "outerBoundaryIs", "exterior", "innerBoundaryIs", "interior":
		default:
			continue
		}
		ring, ok := b.child("LinearRing")
		if !ok {
			return nil, fmt.Errorf("%w: %s without LinearRing", ErrFilter, b.XMLName.Local)
		}
		pts, err := points(ring)
		if err != nil {
			return nil, err
		}
		if len(pts) < 4 {
			return nil, fmt.Errorf("%w: LinearRing needs four positions", ErrFilter)
		}
		r := orb.Ring(pts)
		if outer := b.XMLName.Local == "outerBoundaryIs" || b.XMLName.Local == "exterior"; outer {
			poly = append(orb.Polygon{r}, poly...)
		} else {
			poly = append(poly, r)
		}
	}
	if len(poly) == 0 {
		return nil, fmt.Errorf("%w: Polygon without exterior", ErrFilter)
	}
	return poly, nil
}

func envelope(e element) (orb.Geometry, error) {
	var pts []orb.Point
	lo, okLo := e.child("lowerCorner")
	hi, okHi := e.child("upperCorner")
	if okLo && okHi {
		a, err := posList(lo.Text, 2)
		if err != nil {
			return nil, err
		}
		b, err := posList(hi.Text, 2)
		if err != nil {
			return nil, err
		}
		pts = append(a, b...)
	} else {
		var err error
		pts, err = points(e)
		if err != nil {
			return nil, err
		}
	}
	if len(pts) != 2 {
		return nil, fmt.Errorf("%w: %s needs two corners", ErrFilter, e.XMLName.Local)
	}
	return orb.Bound{Min: pts[0], Max: pts[0]}.Extend(pts[1]).ToPolygon(), nil
}

// points collects positions from coordinates, coord, pos or posList children.
func points(e element) ([]orb.Point, error) {
	dim := 2
	if v, ok := e.attr("srsDimension"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 2 {
			dim = n
		}
	}
	var out []orb.Point
	for _, c := range e.Children {
		switch c.XMLName.Local {
		case "coordinates":
			pts, err := coordinates(c)
			if err != nil {
				return nil, err
			}
			out = append(out, pts...)
		case "coord":
			x, okX := c.child("X")
			y, okY := c.child("Y")
			if !okX || !okY {
				return nil, fmt.Errorf("%w: coord needs X and Y", ErrFilter)
			}
			p, err := point(x.Text, y.Text)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		case "pos", "posList":
			d := dim
			if v, ok := c.attr("srsDimension"); ok {
				if n, err := strconv.Atoi(v); err == nil && n >= 2 {
					d = n
				}
			}
			pts, err := posList(c.Text, d)
			if err != nil {
				return nil, err
			}
			out = append(out, pts...)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s without positions", ErrFilter, e.XMLName.Local)
	}
	return out, nil
}

func coordinates(c element) ([]orb.Point, error) {
	cs, ts, dec := ",", " ", "."
	if v, ok := c.attr("cs"); ok && v != "" {
		cs = v
	}
	if v, ok := c.attr("ts"); ok && v != "" {
		ts = v
	}
	if v, ok := c.attr("decimal"); ok && v != "" {
		dec = v
	}
	text := strings.TrimSpace(c.Text)
	var tuples []string
	if strings.TrimSpace(ts) == "" {
		tuples = strings.Fields(text)
	} else {
		tuples = strings.Split(text, ts)
	}
	out := make([]orb.Point, 0, len(tuples))
	for _, t := range tuples {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if dec != "." {
			t = strings.ReplaceAll(t, dec, ".")
		}
		parts := strings.Split(t, cs)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: coordinate tuple %q", ErrFilter, t)
		}
		p, err := point(parts[0], parts[1])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func posList(text string, dim int) ([]orb.Point, error) {
	f := strings.Fields(text)
	if len(f) == 0 || len(f)%dim != 0 {
		return nil, fmt.Errorf("%w: position list %q", ErrFilter, text)
	}
	out := make([]orb.Point, 0, len(f)/dim)
	for i := 0; i < len(f); i += dim {
		p, err := point(f[i], f[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func point(xs, ys string) (orb.Point, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("%w: coordinate %q", ErrFilter, xs)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("%w: coordinate %q", ErrFilter, ys)
	}
	return orb.Point{x, y}, nil
}

// FlipAxis swaps x and y of every position, turning lat/long input into
// the x/y order the store expects.
func FlipAxis(g orb.Geometry) orb.Geometry {
	flip := func(pts []orb.Point) []orb.Point {
		out := make([]orb.Point, len(pts))
		for i, p := range pts {
			out[i] = orb.Point{p[1], p[0]}
		}
		return out
	}
	switch v := g.(type) {
	case orb.Point:
		return orb.Point{v[1], v[0]}
	case orb.MultiPoint:
		return orb.MultiPoint(flip(v))
	case orb.LineString:
		return orb.LineString(flip(v))
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			out[i] = orb.LineString(flip(ls))
		}
		return out
	case orb.Ring:
		return orb.Ring(flip(v))
	case orb.Polygon:
		out := make(orb.Polygon, len(v))
		for i, r := range v {
			out[i] = orb.Ring(flip(r))
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = FlipAxis(p).(orb.Polygon)
		}
		return out
	case orb.Bound:
		return orb.Bound{Min: orb.Point{v.Min[1], v.Min[0]}, Max: orb.Point{v.Max[1], v.Max[0]}}
	default:
		return g
	}
}
