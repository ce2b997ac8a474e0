// Package kafkaconsumer applies change events from a Kafka topic: data
// events drop the layer's cached responses, schema events reload the
// registry.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/pgwfs/internal/cache"
	obs "github.com/mohammed-shakir/pgwfs/internal/core/observability"
	"github.com/mohammed-shakir/pgwfs/internal/core/schema"
	"github.com/mohammed-shakir/pgwfs/internal/invalidation"
	mylog "github.com/mohammed-shakir/pgwfs/internal/logger"
)

type Registry interface {
	Snapshot() *schema.Snapshot
	Reload(ctx context.Context) error
}

type Options struct {
	Logger *slog.Logger
	// Source is this instance's publisher id; its own events were applied
	// locally and are skipped.
	Source string
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  cache.Interface
	reg    Registry
	source string
	ver    *versionDedupe

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// New builds a consumer; c may be nil when caching is off, in which case
// only schema events have an effect.
func New(cfg Config, c cache.Interface, reg Registry, opts Options) *Consumer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: opts.Logger,
		cache:  c,
		reg:    reg,
		source: opts.Source,
		ver:    newVersionDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
}

// Start joins the consumer group and consumes in the background until ctx
// is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.reg == nil {
		return errors.New("kafkaconsumer: registry dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("create consumer group: %w", err)
	}

	h := &groupHandler{setup: c.onAssign, cleanup: c.onRevoke, process: c.ProcessOne}
	ctx = mylog.WithComponent(ctx, "kafka_consumer")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.logger.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.logger.ErrorContext(ctx, "kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			obs.IncKafkaConsumerError("group")
			c.logger.ErrorContext(ctx, "kafka group error", "err", err)
		}
	}()

	c.logger.InfoContext(ctx, "kafka change consumer started",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("kafka change consumer stopped")
}

// Readiness reports whether partitions are assigned and which.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (c *Consumer) onAssign(sess sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			c.assign[p] = struct{}{}
		}
	}
	c.assigned.Store(true)
}

func (c *Consumer) onRevoke(sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assigned.Store(false)
	c.assign = map[int32]struct{}{}
}

// ProcessOne applies a single message. Malformed events are counted and
// skipped; only failures worth a redelivery are returned.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	ev, err := invalidation.Decode(msg.Value)
	if err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logger.WarnContext(ctx, "skipping bad change event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if c.source != "" && ev.Source == c.source {
		return nil
	}
	key, version := ev.DedupeKey(), ev.TS.UnixNano()
	if c.ver.stale(key, version) {
		c.logger.DebugContext(ctx, "skipping stale change event", "layer", ev.Layer, "op", ev.Op, "source", ev.Source)
		return nil
	}

	n, err := c.apply(ctx, ev)
	obs.ObserveInvalidation(ev.Op, n, time.Since(start), err)
	if err != nil {
		return err
	}
	c.ver.record(key, version)
	c.logger.DebugContext(ctx, "change event applied", "layer", ev.Layer, "op", ev.Op, "keys", n)
	return nil
}

func (c *Consumer) apply(ctx context.Context, ev invalidation.Event) (int, error) {
	if !ev.IsData() {
		if err := c.reg.Reload(ctx); err != nil {
			obs.IncKafkaConsumerError("reload")
			return 0, fmt.Errorf("reload registry: %w", err)
		}
		if c.cache == nil {
			return 0, nil
		}
		if ev.Layer == "" {
			return c.invalidateAll(ctx)
		}
	}
	if c.cache == nil {
		return 0, nil
	}
	layer := ev.Layer
	if l, ok := c.reg.Snapshot().Lookup(layer); ok {
		layer = l.Name
	}
	n, err := c.cache.InvalidateLayer(ctx, layer)
	if err != nil {
		obs.IncKafkaConsumerError("cache")
		return 0, fmt.Errorf("invalidate %s: %w", layer, err)
	}
	return n, nil
}

// invalidateAll drops the cached responses of every published layer.
func (c *Consumer) invalidateAll(ctx context.Context) (int, error) {
	total := 0
	for _, l := range c.reg.Snapshot().Layers() {
		n, err := c.cache.InvalidateLayer(ctx, l.Name)
		if err != nil {
			obs.IncKafkaConsumerError("cache")
			return total, fmt.Errorf("invalidate %s: %w", l.Name, err)
		}
		total += n
	}
	return total, nil
}
