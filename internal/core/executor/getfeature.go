package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/pgwfs/internal/core/observability"
	"github.com/mohammed-shakir/pgwfs/internal/core/query"
	"github.com/mohammed-shakir/pgwfs/internal/core/schema"
	"github.com/mohammed-shakir/pgwfs/internal/core/serialize"
	"github.com/mohammed-shakir/pgwfs/internal/core/store"
	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
)

// getFeature streams the features of every layer into out. The first
// query is opened before anything is written so a store failure can
// still be reported as an exception.
func (e *Executor) getFeature(ctx context.Context, w http.ResponseWriter, out io.Writer, snap *schema.Snapshot, req *wfs.Request, doc serialize.Document) error {
	a := query.New(e.engine, snap, e.db, e.cfg)
	sts, err := a.Assemble(ctx, req)
	if err != nil {
		return err
	}

	var extent *orb.Bound
	if doc.DisplayBBox {
		if extent, err = e.extent(ctx, a, req, sts); err != nil {
			return err
		}
	}

	rows, err := e.query(ctx, sts[0])
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", req.Format.ContentType())
	fw := serialize.NewFeatureWriter(out, req, doc)
	if err := fw.Begin(extent); err != nil {
		rows.Close()
		return fmt.Errorf("write collection start: %w", err)
	}
	for i, st := range sts {
		if i > 0 {
			if rows, err = e.query(ctx, st); err != nil {
				return err
			}
		}
		n, err := fw.WriteLayer(st.Layer, rows)
		rows.Close()
		observability.AddFeatures(st.Layer.Name, n)
		if err != nil {
			return err
		}
		e.logger.DebugContext(ctx, "layer written", "layer", st.Layer.Name, "features", n)
	}
	return fw.End()
}

func (e *Executor) query(ctx context.Context, st query.Statement) (store.Rows, error) {
	e.logger.DebugContext(ctx, "sql", "layer", st.Layer.Name, "statement", st.SQL)
	rows, err := e.db.Query(ctx, st.SQL)
	if err != nil {
		return nil, wfs.Internal(fmt.Errorf("query %s: %w", st.Layer.Name, err))
	}
	return rows, nil
}

// hits answers resultType=hits with the sum of the per-layer counts.
func (e *Executor) hits(ctx context.Context, w http.ResponseWriter, snap *schema.Snapshot, req *wfs.Request, doc serialize.Document) error {
	sts, err := query.New(e.engine, snap, e.db, e.cfg).Assemble(ctx, req)
	if err != nil {
		return err
	}
	var total int64
	for _, st := range sts {
		sql := query.HitsSQL(st)
		e.logger.DebugContext(ctx, "sql", "layer", st.Layer.Name, "statement", sql)
		n, err := store.QueryInt(ctx, e.db, sql)
		if err != nil {
			return wfs.Internal(fmt.Errorf("count %s: %w", st.Layer.Name, err))
		}
		total += n
	}
	w.Header().Set("Content-Type", req.Format.ContentType())
	return serialize.WriteHits(w, req, doc, total, e.now())
}

// extent unions the output extents of all statements; nil when no layer
// has a geometry or nothing matched.
func (e *Executor) extent(ctx context.Context, a *query.Assembler, req *wfs.Request, sts []query.Statement) (*orb.Bound, error) {
	var out *orb.Bound
	for _, st := range sts {
		sql, ok := a.ExtentSQL(req, st)
		if !ok {
			continue
		}
		b, found, err := e.bound(ctx, sql)
		if err != nil {
			return nil, wfs.Internal(fmt.Errorf("extent %s: %w", st.Layer.Name, err))
		}
		if !found {
			continue
		}
		if out == nil {
			out = &b
		} else {
			u := out.Union(b)
			out = &u
		}
	}
	return out, nil
}

// bound reads one xmin, ymin, xmax, ymax row; found is false when the
// extent is NULL.
func (e *Executor) bound(ctx context.Context, sql string) (orb.Bound, bool, error) {
	rows, err := e.db.Query(ctx, sql)
	if err != nil {
		return orb.Bound{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return orb.Bound{}, false, rows.Err()
	}
	vals, err := rows.Values()
	if err != nil {
		return orb.Bound{}, false, err
	}
	if len(vals) < 4 {
		return orb.Bound{}, false, fmt.Errorf("extent row has %d columns", len(vals))
	}
	var f [4]float64
	for i := range f {
		switch v := vals[i].(type) {
		case nil:
			return orb.Bound{}, false, nil
		case float64:
			f[i] = v
		case float32:
			f[i] = float64(v)
		default:
			return orb.Bound{}, false, fmt.Errorf("extent value of type %T", v)
		}
	}
	return orb.Bound{Min: orb.Point{f[0], f[1]}, Max: orb.Point{f[2], f[3]}}, true, nil
}
