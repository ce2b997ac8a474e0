// Package query assembles per-layer SQL statements for a validated request.
package query

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/filter"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/schema"
	"github.com/mohammed-shakir/pgwfs/internal/core/store"
	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
)

// Engine is the spatial dialect used for predicates and output geometry.
type Engine interface {
	filter.SpatialEngine
	Render(column string, f model.Format, layerSRID int, out model.SRS, precision int) string
	Envelope(b orb.Bound, srid int) string
	ExtentSQL(column string, layerSRID, outSRID int, fromWhere string) string
	ValidGeometrySQL(wkt string, srid int) string
}

// maxGeoBBoxSRID is the CRS of the configured maximum extent.
const maxGeoBBoxSRID = 4326

// Statement is the query for one target layer.
type Statement struct {
	Layer model.LayerSchema
	// Columns are the projected column names in SELECT order.
	Columns []string
	Where   string
	// FromWhere is "FROM <table> [WHERE <predicate>]".
	FromWhere string
	SQL       string
	// Limit is -1 when no budget applies.
	Limit int
}

type Assembler struct {
	engine   Engine
	compiler filter.Compiler
	snap     *schema.Snapshot
	db       store.DB
	cfg      config.WFSCfg
}

// New builds an assembler reading layers from snap. db runs the count
// queries that consume a shared maxFeatures budget.
func New(engine Engine, snap *schema.Snapshot, db store.DB, cfg config.WFSCfg) *Assembler {
	return &Assembler{
		engine:   engine,
		compiler: filter.Compiler{Engine: engine, Prefixes: snap.Prefixes()},
		snap:     snap,
		db:       db,
		cfg:      cfg,
	}
}

// Assemble builds one statement per layer. When a maxFeatures budget is set
// each layer's LIMIT is what the earlier layers left over, counted with an
// auxiliary query over the same predicate. Layer order therefore decides who
// consumes the budget. Without one the server ceiling limits each layer.
func (a *Assembler) Assemble(ctx context.Context, req *wfs.Request) ([]Statement, error) {
	out := make([]Statement, 0, len(req.Layers))
	remaining := req.MaxFeatures
	for i := range req.Layers {
		st, err := a.statement(req, i)
		if err != nil {
			return nil, err
		}
		if req.MaxFeatures > 0 {
			st.Limit = remaining
			if remaining > 0 && i < len(req.Layers)-1 {
				n, err := store.QueryInt(ctx, a.db, a.CountSQL(st))
				if err != nil {
					return nil, wfs.Internal(fmt.Errorf("count %s: %w", st.Layer.Name, err))
				}
				remaining = max(0, remaining-int(n))
			}
		} else if a.cfg.MaxFeatures > 0 {
			st.Limit = a.cfg.MaxFeatures
		}
		st.SQL = a.selectSQL(req, st)
		out = append(out, st)
	}
	return out, nil
}

func (a *Assembler) statement(req *wfs.Request, i int) (Statement, error) {
	l := req.Layers[i]
	where, err := a.Predicate(req, i)
	if err != nil {
		return Statement{}, err
	}
	fromWhere := "FROM " + Table(l)
	if where != "" {
		fromWhere += " WHERE " + where
	}
	return Statement{
		Layer:     l,
		Columns:   Projection(l, req.Properties(i)),
		Where:     where,
		FromWhere: fromWhere,
		Limit:     -1,
	}, nil
}

// Predicate is the WHERE clause for layer i: the feature id, bbox or filter
// selection, AND-ed with the configured maximum extent.
func (a *Assembler) Predicate(req *wfs.Request, i int) (string, error) {
	sel, err := a.Selection(req, i)
	if err != nil {
		return "", err
	}
	return a.withExtent(req.Layers[i], sel), nil
}

// Selection is the client supplied part of the WHERE clause for layer i;
// empty when the request selects everything.
func (a *Assembler) Selection(req *wfs.Request, i int) (string, error) {
	l := req.Layers[i]
	switch {
	case req.IDs(i) != nil:
		p, err := filter.ResolveStrings(a.snap.Lookup, l.Name, req.IDs(i))
		if err != nil {
			return "", &wfs.Error{Kind: wfs.KindInvalidParameterValue, Locator: "featureid", Message: err.Error(), Err: err}
		}
		return p, nil
	case req.BBox != nil:
		return a.bboxPredicate(l, req.BBox.Bound, req.BBox.SRS.SRID)
	case req.Filter(i) != nil:
		p, err := a.compiler.Compile(l, req.Filter(i))
		if err != nil {
			return "", &wfs.Error{Kind: wfs.KindInvalidParameterValue, Locator: "filter", Message: err.Error(), Err: err}
		}
		return p, nil
	}
	return "", nil
}

func (a *Assembler) withExtent(l model.LayerSchema, sel string) string {
	if a.cfg.MaxGeoBBox == nil || len(l.GeomCols) == 0 {
		return sel
	}
	env := a.engine.Transform(a.engine.Envelope(*a.cfg.MaxGeoBBox, maxGeoBBoxSRID), maxGeoBBoxSRID, l.SRID)
	ext := a.engine.Predicate(filter.OpBBOX, filter.Ident(l.GeomCols[0]), env, 0)
	if sel == "" {
		return ext
	}
	return "(" + sel + ") AND (" + ext + ")"
}

// bboxPredicate matches features whose any geometry column meets b.
func (a *Assembler) bboxPredicate(l model.LayerSchema, b orb.Bound, srid int) (string, error) {
	if len(l.GeomCols) == 0 {
		return "", &wfs.Error{Kind: wfs.KindInvalidParameterValue, Locator: "bbox",
			Message: fmt.Sprintf("layer %s has no geometry column", l.Name)}
	}
	env := a.engine.Transform(a.engine.Envelope(b, srid), srid, l.SRID)
	parts := make([]string, len(l.GeomCols))
	for i, c := range l.GeomCols {
		parts[i] = a.engine.Predicate(filter.OpBBOX, filter.Ident(c), env, 0)
	}
	return strings.Join(parts, " OR "), nil
}

// Projection lists the output columns of l in catalog order. The primary
// key and NOT NULL columns are always selected; excluded columns never are.
// props nil selects every column.
func Projection(l model.LayerSchema, props []string) []string {
	var out []string
	for _, c := range l.Columns {
		if c.Name == l.PrimaryKey {
			out = append(out, c.Name)
			continue
		}
		if l.IsExcluded(c.Name) {
			continue
		}
		if props != nil && !c.NotNull && !slices.Contains(props, c.Name) {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

func (a *Assembler) selectSQL(req *wfs.Request, st Statement) string {
	prec := a.cfg.MeterPrecision
	if req.SRS.IsDegree {
		prec = a.cfg.DegreePrecision
	}
	cols := make([]string, len(st.Columns))
	for i, c := range st.Columns {
		if st.Layer.IsGeometry(c) {
			cols[i] = a.engine.Render(c, req.Format, st.Layer.SRID, req.SRS, prec) + " AS " + filter.Ident(c)
		} else {
			cols[i] = filter.Ident(c)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteByte(' ')
	b.WriteString(st.FromWhere)
	if o := OrderBy(req.SortBy); o != "" {
		b.WriteByte(' ')
		b.WriteString(o)
	}
	if st.Limit >= 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(st.Limit))
	}
	return b.String()
}

// OrderBy renders the sort keys; empty when there are none.
func OrderBy(keys []model.SortKey) string {
	if len(keys) == 0 {
		return ""
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		parts[i] = filter.Ident(k.Property) + " " + dir
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

// Table is the quoted schema-qualified table of l.
func Table(l model.LayerSchema) string {
	table := l.Table
	if table == "" {
		table = l.Name
	}
	if l.DBSchema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{l.DBSchema, table}.Sanitize()
}

// CountSQL counts what st would return under its current limit.
func (a *Assembler) CountSQL(st Statement) string {
	inner := "SELECT 1 " + st.FromWhere
	if st.Limit >= 0 {
		inner += " LIMIT " + strconv.Itoa(st.Limit)
	}
	return "SELECT count(*) FROM (" + inner + ") AS x"
}

// HitsSQL wraps an assembled statement for resultType=hits.
func HitsSQL(st Statement) string {
	return "SELECT count(*) FROM (" + st.SQL + ") AS x"
}

// ExtentSQL computes the output extent of st over its first geometry
// column; ok is false when the layer has none.
func (a *Assembler) ExtentSQL(req *wfs.Request, st Statement) (string, bool) {
	if len(st.Layer.GeomCols) == 0 {
		return "", false
	}
	return a.engine.ExtentSQL(st.Layer.GeomCols[0], st.Layer.SRID, req.SRS.SRID, st.FromWhere), true
}

// DeleteSQL removes the features of layer i matched by the request. A
// request without a selection is refused; the maximum extent alone never
// selects features for deletion.
func (a *Assembler) DeleteSQL(req *wfs.Request, i int) (string, error) {
	sel, err := a.Selection(req, i)
	if err != nil {
		return "", err
	}
	if sel == "" {
		return "", &wfs.Error{Kind: wfs.KindMissingParameter, Locator: "filter", Message: "Delete needs a selection"}
	}
	return "DELETE FROM " + Table(req.Layers[i]) + " WHERE " + a.withExtent(req.Layers[i], sel), nil
}
