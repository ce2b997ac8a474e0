package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/store/storetest"
)

func roads() model.LayerSchema {
	return model.LayerSchema{
		Name:       "roads",
		Prefix:     "demo",
		Namespace:  "http://example.com/demo",
		Storage:    true,
		PrimaryKey: "id",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInteger, PGType: "int4", NotNull: true},
			{Name: "name", Type: model.TypeText, PGType: "text"},
			{Name: "geom", Type: model.TypeGeometry, PGType: "geometry"},
		},
		GeomCols: []string{"geom"},
		SRID:     4326,
	}
}

func TestSnapshot_Lookup(t *testing.T) {
	s := NewSnapshot(config.ServiceInfo{}, []model.LayerSchema{roads(), {Name: "rivers"}})

	for _, name := range []string{"roads", "demo:roads", " roads "} {
		if _, ok := s.Lookup(name); !ok {
			t.Fatalf("Lookup(%q) not found", name)
		}
	}
	for _, name := range []string{"other:roads", "demo:rivers", "lakes", ""} {
		if _, ok := s.Lookup(name); ok {
			t.Fatalf("Lookup(%q) unexpectedly found", name)
		}
	}
}

func TestSnapshot_ResolveOrdinal(t *testing.T) {
	s := NewSnapshot(config.ServiceInfo{}, []model.LayerSchema{roads()})
	if n, ok := s.ResolveOrdinal("roads", 2); !ok || n != "name" {
		t.Fatalf("ordinal 2 = %q %v", n, ok)
	}
	for _, i := range []int{0, 4, -1} {
		if _, ok := s.ResolveOrdinal("roads", i); ok {
			t.Fatalf("ordinal %d resolved", i)
		}
	}
	if _, ok := s.ResolveOrdinal("lakes", 1); ok {
		t.Fatal("unknown layer resolved")
	}
}

func TestSnapshot_OrderAndPrefixes(t *testing.T) {
	b := model.LayerSchema{Name: "b", Prefix: "zz"}
	a := model.LayerSchema{Name: "a", Prefix: "aa", Storage: true}
	s := NewSnapshot(config.ServiceInfo{}, []model.LayerSchema{b, a, {Name: "c", Prefix: "aa"}})

	ls := s.Layers()
	if len(ls) != 3 || ls[0].Name != "b" || ls[1].Name != "a" || ls[2].Name != "c" {
		t.Fatalf("order %+v", ls)
	}
	p := s.Prefixes()
	if len(p) != 2 || p[0] != "aa" || p[1] != "zz" {
		t.Fatalf("prefixes %v", p)
	}
	if s.StorageCount() != 1 {
		t.Fatalf("storage count %d", s.StorageCount())
	}
}

func TestRegistry_ReloadKeepsSnapshotOnError(t *testing.T) {
	first := NewSnapshot(config.ServiceInfo{}, []model.LayerSchema{roads()})
	fail := true
	r := NewRegistry(first, func(context.Context) (*Snapshot, error) {
		if fail {
			return nil, errors.New("catalog unavailable")
		}
		return NewSnapshot(config.ServiceInfo{}, []model.LayerSchema{{Name: "rivers"}}), nil
	})

	if err := r.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if r.Snapshot() != first {
		t.Fatal("snapshot replaced after failed reload")
	}

	fail = false
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := r.Snapshot().Lookup("rivers"); !ok {
		t.Fatal("new snapshot not published")
	}
	// a request holding the old snapshot still sees the old layers
	if _, ok := first.Lookup("roads"); !ok {
		t.Fatal("old snapshot mutated")
	}
}

func TestRegistry_NoLoader(t *testing.T) {
	r := NewRegistry(nil, nil)
	if r.Snapshot() == nil {
		t.Fatal("nil initial snapshot")
	}
	if err := r.Reload(context.Background()); err == nil {
		t.Fatal("expected error without loader")
	}
}

type srsFunc func(ctx context.Context, srid int) (model.SRS, error)

func (f srsFunc) BySRID(ctx context.Context, srid int) (model.SRS, error) { return f(ctx, srid) }

func TestLoader_Load(t *testing.T) {
	db := storetest.New().
		OnArgs("relkind", []any{"public", "roads"}, storetest.Result{Rows: [][]any{{int32(1)}}}).
		On("attnotnull", storetest.Result{Rows: [][]any{
			{"id", "int4", true},
			{"name", "text", false},
			{"geom", "geometry", false},
			{"opened", "timestamptz", false},
		}}).
		On("contype", storetest.Result{Rows: [][]any{{"id"}}}).
		On("geometry_columns", storetest.Result{Rows: [][]any{{"geom", int32(3857)}}})

	lookup := srsFunc(func(_ context.Context, srid int) (model.SRS, error) {
		return model.SRS{SRID: srid, IsDegree: srid == 4326}, nil
	})
	cat := config.Catalog{
		Service: config.ServiceInfo{Title: "demo"},
		Layers: []config.LayerConfig{
			{Name: "roads", Schema: "public", Table: "roads", Prefix: "demo"},
			{Name: "ghost", Schema: "public", Table: "ghost"},
		},
	}

	s, err := NewLoader(db, lookup, nil).Load(context.Background(), cat)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	l, ok := s.Lookup("demo:roads")
	if !ok {
		t.Fatal("roads missing")
	}
	if !l.Storage || l.PrimaryKey != "id" || l.SRID != 3857 || l.IsDegree {
		t.Fatalf("roads %+v", l)
	}
	if len(l.GeomCols) != 1 || l.GeomCols[0] != "geom" {
		t.Fatalf("geom cols %v", l.GeomCols)
	}
	if c, _ := l.Column("opened"); c.Type != model.TypeTimestamp {
		t.Fatalf("opened type %v", c.Type)
	}
	if !l.IsNotNull("id") || l.IsNotNull("name") {
		t.Fatal("not-null flags")
	}

	g, ok := s.Lookup("ghost")
	if !ok || g.Storage {
		t.Fatalf("ghost %+v %v", g, ok)
	}
	if s.Service.Title != "demo" {
		t.Fatalf("service %+v", s.Service)
	}
}

func TestLoader_SRIDOverride(t *testing.T) {
	db := storetest.New().
		On("relkind", storetest.Result{Rows: [][]any{{int32(1)}}}).
		On("attnotnull", storetest.Result{Rows: [][]any{{"geom", "geometry", false}}}).
		On("geometry_columns", storetest.Result{Rows: [][]any{{"geom", int32(0)}}})

	cat := config.Catalog{Layers: []config.LayerConfig{{Name: "pts", Schema: "public", Table: "pts", SRID: 4326}}}
	s, err := NewLoader(db, srsFunc(func(_ context.Context, srid int) (model.SRS, error) {
		return model.SRS{SRID: srid, IsDegree: true}, nil
	}), nil).Load(context.Background(), cat)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	l, _ := s.Lookup("pts")
	if l.SRID != 4326 || !l.IsDegree || l.PrimaryKey != "" {
		t.Fatalf("pts %+v", l)
	}
}

func TestLoader_QueryError(t *testing.T) {
	db := storetest.New().On("relkind", storetest.Result{Err: errors.New("conn reset")})
	cat := config.Catalog{Layers: []config.LayerConfig{{Name: "roads", Schema: "public", Table: "roads"}}}
	if _, err := NewLoader(db, nil, nil).Load(context.Background(), cat); err == nil {
		t.Fatal("expected error")
	}
}

func TestSemanticType(t *testing.T) {
	cases := map[string]model.ColumnType{
		"geometry": model.TypeGeometry,
		"int8":     model.TypeInteger,
		"numeric":  model.TypeFloat,
		"bool":     model.TypeBoolean,
		"date":     model.TypeTimestamp,
		"varchar":  model.TypeText,
		"jsonb":    model.TypeText,
	}
	for pg, want := range cases {
		if got := SemanticType(pg); got != want {
			t.Fatalf("%s: got %v want %v", pg, got, want)
		}
	}
}
