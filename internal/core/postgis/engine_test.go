package postgis

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/pgwfs/internal/core/filter"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
)

func TestRender(t *testing.T) {
	var e Engine
	cases := []struct {
		desc   string
		format model.Format
		out    model.SRS
		want   string
	}{
		{"gml2 native", model.FormatGML212, model.SRS{SRID: 4326},
			`ST_AsGML(2, "geom"::geometry, 6)`},
		{"gml3 long degree", model.FormatGML311, model.SRS{SRID: 4326, LongForm: true, ReverseAxis: true},
			`ST_AsGML(3, "geom"::geometry, 6, 19)`},
		{"gml3 long meter", model.FormatGML311, model.SRS{SRID: 3857, LongForm: true},
			`ST_AsGML(3, ST_Transform("geom"::geometry, 3857), 6, 3)`},
		{"geojson", model.FormatGeoJSON, model.SRS{SRID: 4326},
			`ST_AsGeoJSON("geom"::geometry, 6)`},
	}
	for _, tc := range cases {
		if got := e.Render("geom", tc.format, 4326, tc.out, 6); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.desc, got, tc.want)
		}
	}
}

func TestTransform_SkipsUnknownSRID(t *testing.T) {
	var e Engine
	if got := e.Transform("g", 0, 4326); got != "g" {
		t.Fatalf("got %q", got)
	}
	if got := e.Transform("g", 4326, 4326); got != "g" {
		t.Fatalf("got %q", got)
	}
}

func TestPredicate(t *testing.T) {
	var e Engine
	if got := e.Predicate(filter.OpBeyond, `"g"`, "x", 2.5); got != `NOT ST_DWithin("g", x, 2.5)` {
		t.Fatalf("got %q", got)
	}
	if got := e.Predicate(filter.OpWithin, `"g"`, "x", 0); got != `ST_Within("g", x)` {
		t.Fatalf("got %q", got)
	}
}

func TestEnvelope(t *testing.T) {
	var e Engine
	got := e.Envelope(orb.Bound{Min: orb.Point{-1.5, 2}, Max: orb.Point{3, 4.25}}, 4326)
	if want := "ST_MakeEnvelope(-1.5, 2, 3, 4.25, 4326)"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestGeomFromText_Escapes(t *testing.T) {
	var e Engine
	if got := e.GeomFromText("POINT(1 2)", 4326); got != "ST_GeomFromText('POINT(1 2)', 4326)" {
		t.Fatalf("got %q", got)
	}
}
