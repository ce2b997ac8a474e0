package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/pgwfs/internal/cache"
	"github.com/mohammed-shakir/pgwfs/internal/cache/redisstore"
	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/executor"
	"github.com/mohammed-shakir/pgwfs/internal/core/observability"
	"github.com/mohammed-shakir/pgwfs/internal/core/postgis"
	"github.com/mohammed-shakir/pgwfs/internal/core/schema"
	"github.com/mohammed-shakir/pgwfs/internal/core/server"
	"github.com/mohammed-shakir/pgwfs/internal/core/srs"
	"github.com/mohammed-shakir/pgwfs/internal/core/store"
	"github.com/mohammed-shakir/pgwfs/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/pgwfs/internal/invalidation/publisher"
	"github.com/mohammed-shakir/pgwfs/internal/logger"
	"github.com/mohammed-shakir/pgwfs/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	layersFlag := flag.String("layers", "", "layer catalog file")
	addrFlag := flag.String("addr", "", "listen address")
	flag.Parse()

	cfg := config.FromEnv()
	if *layersFlag != "" {
		cfg.LayersFile = strings.TrimSpace(*layersFlag)
	}
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Service:   "pgwfs",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting pgwfs",
		"addr", cfg.Addr,
		"version", Version,
		"layers_file", cfg.LayersFile,
		"cache", cfg.Cache.Enabled,
		"invalidation", cfg.Invalidation.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Open(ctx, store.Config{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		appLog.Error("database unavailable", "err", err)
		return 1
	}
	defer pool.Close()

	resolver := srs.NewResolver(pool, cfg.SRSCacheSize)
	loader := schema.NewLoader(pool, resolver, appLog)
	load := func(ctx context.Context) (*schema.Snapshot, error) {
		cat, err := config.LoadCatalog(cfg.LayersFile)
		if err != nil {
			return nil, err
		}
		return loader.Load(ctx, cat)
	}
	snap, err := load(ctx)
	if err != nil {
		appLog.Error("layer catalog load failed", "file", cfg.LayersFile, "err", err)
		return 1
	}
	reg := schema.NewRegistry(snap, load)
	appLog.Info("layers loaded", "layers", len(snap.Layers()), "with_storage", snap.StorageCount())

	deps := server.Deps{DB: pool}
	var respCache cache.Interface
	if cfg.Cache.Enabled {
		rc, err := redisstore.New(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.Cache.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		respCache = rc
		deps.Cache = rc
	}

	source, _ := os.Hostname()
	opts := executor.Options{Cache: respCache, CacheCfg: cfg.Cache}

	kafka := cfg.Invalidation.Enabled && cfg.Invalidation.Driver == "kafka"
	if kafka && cfg.Invalidation.Publish {
		kc := kafkaconsumer.FromConfig(cfg.Invalidation)
		pub, err := publisher.New(kc.Brokers, kc.Topic, source)
		if err != nil {
			appLog.Error("change publisher setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		opts.Publisher = pub
	}
	if kafka {
		consumer := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), respCache, reg,
			kafkaconsumer.Options{Logger: appLog, Source: source})
		if err := consumer.Start(ctx); err != nil {
			appLog.Error("change consumer start failed", "err", err)
			return 1
		}
		defer consumer.Stop()
		deps.Consumer = consumer
	}

	deps.Executor = executor.New(appLog, pool, reg, resolver, postgis.Engine{}, cfg.WFS, opts)

	if mc := metrics.FromEnv(Version); mc.Enabled {
		p := metrics.Init(mc)
		observability.Init(p.Registerer())
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	if err := server.Run(ctx, cfg.Addr, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
