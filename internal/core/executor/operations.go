package executor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/pgwfs/internal/core/filter"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/query"
	"github.com/mohammed-shakir/pgwfs/internal/core/schema"
	"github.com/mohammed-shakir/pgwfs/internal/core/serialize"
	"github.com/mohammed-shakir/pgwfs/internal/core/store"
	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
	"github.com/mohammed-shakir/pgwfs/internal/invalidation"
)

// wgs84SRID is the CRS of capabilities bounding boxes.
const wgs84SRID = 4326

func (e *Executor) capabilities(ctx context.Context, w http.ResponseWriter, snap *schema.Snapshot, req *wfs.Request, doc serialize.Document) error {
	c := serialize.Capabilities{
		Service: snap.Service,
		Layers:  snap.Layers(),
		WGS84:   map[string]orb.Bound{},
	}
	for _, l := range c.Layers {
		if !l.Storage || !l.Retrievable || len(l.GeomCols) == 0 {
			continue
		}
		sql := e.engine.ExtentSQL(l.GeomCols[0], l.SRID, wgs84SRID, "FROM "+query.Table(l))
		b, ok, err := e.bound(ctx, sql)
		if err != nil {
			// capabilities stay usable without the extent
			e.logger.WarnContext(ctx, "layer extent failed", "layer", l.Name, "err", err)
			continue
		}
		if ok {
			c.WGS84[l.Name] = b
		}
	}
	w.Header().Set("Content-Type", contentType(req))
	return serialize.WriteCapabilities(w, req, doc, c)
}

// transaction runs a KVP Delete on every target layer in one database
// transaction. Cached responses are dropped and changes announced only
// once it committed.
func (e *Executor) transaction(ctx context.Context, w http.ResponseWriter, snap *schema.Snapshot, req *wfs.Request) error {
	a := query.New(e.engine, snap, e.db, e.cfg)
	sqls := make([]string, len(req.Layers))
	for i := range req.Layers {
		sql, err := a.DeleteSQL(req, i)
		if err != nil {
			return err
		}
		sqls[i] = sql
	}

	var total int64
	counts := make([]int64, len(req.Layers))
	err := store.InTx(ctx, e.db, func(tx store.Tx) error {
		for i, l := range req.Layers {
			e.logger.DebugContext(ctx, "sql", "layer", l.Name, "statement", sqls[i])
			n, err := tx.Exec(ctx, sqls[i])
			if err != nil {
				return fmt.Errorf("delete from %s: %w", l.Name, err)
			}
			counts[i] = n
		}
		return nil
	})
	if err != nil {
		return wfs.Internal(err)
	}
	for i, l := range req.Layers {
		total += counts[i]
		e.logger.InfoContext(ctx, "features deleted", "layer", l.Name, "count", counts[i])
		e.changed(ctx, l)
	}

	w.Header().Set("Content-Type", contentType(req))
	return serialize.WriteTransaction(w, req.Version, total)
}

func (e *Executor) changed(ctx context.Context, l model.LayerSchema) {
	if e.cache != nil {
		cctx, cancel := e.cacheCtx(ctx)
		n, err := e.cache.InvalidateLayer(cctx, l.Name)
		cancel()
		if err != nil {
			e.logger.WarnContext(ctx, "cache invalidation failed", "layer", l.Name, "err", err)
		} else {
			e.logger.DebugContext(ctx, "cache invalidated", "layer", l.Name, "keys", n)
		}
	}
	if e.pub != nil {
		ev := invalidation.Event{Version: invalidation.EventVersion, Op: invalidation.OpDelete, Layer: l.Name, TS: e.now().UTC()}
		if err := e.pub.Publish(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "change event publish failed", "layer", l.Name, "err", err)
		}
	}
}

// checkGeometries asks the store whether every geometry literal in the
// request filters is valid. Disabled by WFS_CHECK_VALID_GEOM=false.
func (e *Executor) checkGeometries(ctx context.Context, req *wfs.Request) error {
	if !e.cfg.CheckValidGeom {
		return nil
	}
	for i, l := range req.Layers {
		f := req.Filter(i)
		if f == nil || f.Expr == nil {
			continue
		}
		for _, s := range filter.SpatialNodes(f.Expr) {
			if s.Geometry == nil {
				continue
			}
			srid := s.SRID
			if srid == 0 {
				srid = l.SRID
			}
			text := wkt.MarshalString(s.Geometry)
			ok, err := store.QueryBool(ctx, e.db, e.engine.ValidGeometrySQL(text, srid))
			if err != nil {
				return wfs.Internal(fmt.Errorf("geometry check %s: %w", l.Name, err))
			}
			if !ok {
				return &wfs.Error{Kind: wfs.KindInvalidParameterValue, Locator: "filter",
					Message: fmt.Sprintf("%s geometry is not valid: %s", s.Op, text)}
			}
		}
	}
	return nil
}
