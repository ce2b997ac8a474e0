// Package executor runs validated WFS requests against the store and
// streams the serialized answer.
package executor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammed-shakir/pgwfs/internal/cache"
	"github.com/mohammed-shakir/pgwfs/internal/cache/keys"
	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/query"
	"github.com/mohammed-shakir/pgwfs/internal/core/schema"
	"github.com/mohammed-shakir/pgwfs/internal/core/serialize"
	"github.com/mohammed-shakir/pgwfs/internal/core/store"
	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
	"github.com/mohammed-shakir/pgwfs/internal/invalidation"
	mylog "github.com/mohammed-shakir/pgwfs/internal/logger"
)

// Interface is what the HTTP router drives.
type Interface interface {
	Handle(ctx context.Context, w http.ResponseWriter, p wfs.Params) error
}

type Registry interface {
	Snapshot() *schema.Snapshot
}

// Publisher announces local data changes to other instances.
type Publisher interface {
	Publish(ctx context.Context, ev invalidation.Event) error
}

type Options struct {
	Cache     cache.Interface
	CacheCfg  config.CacheCfg
	Publisher Publisher
}

type Executor struct {
	logger   *slog.Logger
	db       store.DB
	reg      Registry
	srs      wfs.SRSResolver
	engine   query.Engine
	cfg      config.WFSCfg
	cache    cache.Interface
	cacheCfg config.CacheCfg
	pub      Publisher
	now      func() time.Time // for tests
}

func New(logger *slog.Logger, db store.DB, reg Registry, resolver wfs.SRSResolver, engine query.Engine, cfg config.WFSCfg, opts Options) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:   logger,
		db:       db,
		reg:      reg,
		srs:      resolver,
		engine:   engine,
		cfg:      cfg,
		cache:    opts.Cache,
		cacheCfg: opts.CacheCfg,
		pub:      opts.Publisher,
		now:      time.Now,
	}
}

// Handle validates p against the current registry snapshot and writes the
// answer to w. Errors returned before anything was written are meant to
// be rendered as exception reports by the caller.
func (e *Executor) Handle(ctx context.Context, w http.ResponseWriter, p wfs.Params) error {
	snap := e.reg.Snapshot()
	req, err := wfs.NewValidator(snap, e.srs, e.cfg).Validate(ctx, p)
	if err != nil {
		return err
	}
	ctx = mylog.WithOperation(ctx, string(req.Operation))
	ctx = mylog.WithLayer(ctx, req.LayerNames()...)
	doc := serialize.NewDocument(e.cfg)
	if err := e.checkGeometries(ctx, req); err != nil {
		return err
	}

	switch req.Operation {
	case model.OpGetCapabilities:
		return e.capabilities(ctx, w, snap, req, doc)
	case model.OpDescribeFeatureType:
		return e.cached(ctx, w, req, p, func(out io.Writer) error {
			w.Header().Set("Content-Type", contentType(req))
			return serialize.WriteSchema(out, req.Version, doc, req.Layers)
		})
	case model.OpGetFeature:
		if req.ResultType == model.ResultsHits {
			return e.hits(ctx, w, snap, req, doc)
		}
		return e.cached(ctx, w, req, p, func(out io.Writer) error {
			return e.getFeature(ctx, w, out, snap, req, doc)
		})
	default:
		return e.transaction(ctx, w, snap, req)
	}
}

// cached serves req from the response cache or runs fill and stores what
// it wrote. Cache failures are logged and never fail the request.
func (e *Executor) cached(ctx context.Context, w http.ResponseWriter, req *wfs.Request, p wfs.Params, fill func(io.Writer) error) error {
	if e.cache == nil {
		return fill(w)
	}
	layers := req.LayerNames()
	key := keys.Response(string(req.Operation), layers, p.Canonical())

	cctx, cancel := e.cacheCtx(ctx)
	body, ok, err := e.cache.Get(cctx, key)
	cancel()
	if err != nil {
		e.logger.WarnContext(ctx, "cache get failed", "key", key, "err", err)
	}
	if ok {
		e.logger.DebugContext(ctx, "cache hit", "key", key, "bytes", len(body))
		w.Header().Set("Content-Type", contentType(req))
		_, err := w.Write(body)
		return err
	}

	capt := &capture{w: w, max: e.cacheCfg.MaxBytes}
	if err := fill(capt); err != nil {
		return err
	}
	if capt.overflow {
		e.logger.DebugContext(ctx, "response too large to cache", "key", key, "max_bytes", capt.max)
		return nil
	}

	cctx, cancel = e.cacheCtx(ctx)
	defer cancel()
	if err := e.cache.Set(cctx, key, layers, capt.buf.Bytes(), e.ttl(layers)); err != nil {
		e.logger.WarnContext(ctx, "cache set failed", "key", key, "err", err)
	}
	return nil
}

func contentType(req *wfs.Request) string {
	switch req.Operation {
	case model.OpGetFeature:
		return req.Format.ContentType()
	default:
		return "text/xml"
	}
}

func (e *Executor) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cacheCfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cacheCfg.OpTimeout)
}

// ttl is the shortest TTL among layers.
func (e *Executor) ttl(layers []string) time.Duration {
	var out time.Duration
	for i, l := range layers {
		if d := e.cacheCfg.TTLFor(l); i == 0 || d < out {
			out = d
		}
	}
	return out
}

// capture copies what passes through into buf until max bytes.
type capture struct {
	w        io.Writer
	buf      bytes.Buffer
	max      int
	overflow bool
}

func (c *capture) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if !c.overflow {
		if c.max > 0 && c.buf.Len()+n > c.max {
			c.overflow = true
			c.buf = bytes.Buffer{}
		} else {
			c.buf.Write(p[:n])
		}
	}
	return n, err
}
