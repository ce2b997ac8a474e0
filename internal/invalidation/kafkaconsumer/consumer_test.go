package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/schema"
	"github.com/mohammed-shakir/pgwfs/internal/invalidation"
)

type fakeCache struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	dropped   []string
}

func (f *fakeCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (f *fakeCache) Set(context.Context, string, []string, []byte, time.Duration) error {
	return nil
}

func (f *fakeCache) InvalidateLayer(_ context.Context, layer string) (int, error) {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return 0, errors.New("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, layer)
	return 1, nil
}

func (f *fakeCache) layers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dropped...)
}

type fakeRegistry struct {
	snap    *schema.Snapshot
	reloads atomic.Int32
	err     error
}

func (r *fakeRegistry) Snapshot() *schema.Snapshot { return r.snap }
func (r *fakeRegistry) Reload(context.Context) error {
	r.reloads.Add(1)
	return r.err
}

func newRegistry() *fakeRegistry {
	return &fakeRegistry{snap: schema.NewSnapshot(config.ServiceInfo{}, []model.LayerSchema{
		{Name: "roads", Prefix: "demo", Storage: true},
		{Name: "rivers", Prefix: "demo", Storage: true},
	})}
}

type sess struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return s.claims }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "wfs-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

var baseTS = time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)

func eventBytes(op, layer, source string, offset time.Duration) []byte {
	b, _ := json.Marshal(invalidation.Event{
		Version: 1, Op: op, Layer: layer, Source: source, TS: baseTS.Add(offset),
	})
	return b
}

func newConsumerForTest(fc *fakeCache, reg *fakeRegistry) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "wfs-changes", GroupID: "g"}
	return New(cfg, fc, reg, Options{Logger: slog.Default(), Source: "self"})
}

func msg(offset int64, value []byte) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "wfs-changes", Partition: 0, Offset: offset, Value: value}
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc, newRegistry())

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msg(10, eventBytes("update", "roads", "etl", 0))
	ch <- msg(11, eventBytes("delete", "rivers", "etl", time.Second))
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if got := fc.layers(); len(got) != 2 || got[0] != "roads" || got[1] != "rivers" {
		t.Fatalf("invalidated %v want [roads rivers]", got)
	}
}

func TestPrefixedLayer_ResolvesToCanonicalName(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc, newRegistry())
	if err := c.ProcessOne(context.Background(), msg(1, eventBytes("insert", "demo:roads", "etl", 0))); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if got := fc.layers(); len(got) != 1 || got[0] != "roads" {
		t.Fatalf("invalidated %v want [roads]", got)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	c := newConsumerForTest(fc, newRegistry())
	ctx := context.Background()

	m := msg(5, eventBytes("update", "roads", "etl", 0))
	if err := c.ProcessOne(ctx, m); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- m
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestFailure_StopsClaimWithoutMark(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	c := newConsumerForTest(fc, newRegistry())

	s := &sess{ctx: t.Context()}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg(7, eventBytes("update", "roads", "etl", 0))
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err == nil {
		t.Fatalf("expected ConsumeClaim error")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message was marked: %v", s.marked)
	}
}

func TestStaleAndOwnEvents_AreSkipped(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc, newRegistry())
	ctx := context.Background()

	steps := []struct {
		value []byte
		want  int
	}{
		{eventBytes("update", "roads", "etl", 2*time.Second), 1},
		{eventBytes("update", "roads", "etl", time.Second), 1},   // older than applied
		{eventBytes("update", "roads", "etl", 2*time.Second), 1}, // redelivery
		{eventBytes("update", "roads", "other", time.Second), 2}, // other source
		{eventBytes("delete", "roads", "self", 5*time.Second), 2},
		{eventBytes("update", "roads", "etl", 3*time.Second), 3},
	}
	for i, st := range steps {
		if err := c.ProcessOne(ctx, msg(int64(i), st.value)); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := len(fc.layers()); got != st.want {
			t.Fatalf("step %d: %d invalidations want %d", i, got, st.want)
		}
	}
}

func TestMalformedEvents_AreSkippedAndMarked(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc, newRegistry())

	s := &sess{ctx: t.Context()}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msg(1, []byte(`{nope`))
	ch <- msg(2, []byte(`{"version":9,"op":"delete","layer":"roads","ts":"2025-10-26T12:00:00Z"}`))
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || len(fc.layers()) != 0 {
		t.Fatalf("marked=%v invalidated=%v", s.marked, fc.layers())
	}
}

func TestSchemaEvent_ReloadsRegistry(t *testing.T) {
	fc := &fakeCache{}
	reg := newRegistry()
	c := newConsumerForTest(fc, reg)
	ctx := context.Background()

	if err := c.ProcessOne(ctx, msg(1, eventBytes("schema", "", "etl", 0))); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if reg.reloads.Load() != 1 {
		t.Fatalf("reloads=%d want 1", reg.reloads.Load())
	}
	if got := fc.layers(); len(got) != 2 {
		t.Fatalf("schema event without layer should drop every layer, got %v", got)
	}

	if err := c.ProcessOne(ctx, msg(2, eventBytes("schema", "rivers", "etl", 0))); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if got := fc.layers(); len(got) != 3 || got[2] != "rivers" {
		t.Fatalf("schema event with layer should drop that layer, got %v", got)
	}

	reg.err = errors.New("catalog down")
	if err := c.ProcessOne(ctx, msg(3, eventBytes("schema", "", "etl", time.Second))); err == nil {
		t.Fatalf("expected reload failure to be returned")
	}
}

func TestNilCache_OnlyReloads(t *testing.T) {
	reg := newRegistry()
	c := New(Config{}, nil, reg, Options{})
	ctx := context.Background()
	if err := c.ProcessOne(ctx, msg(1, eventBytes("delete", "roads", "etl", 0))); err != nil {
		t.Fatalf("data event: %v", err)
	}
	if err := c.ProcessOne(ctx, msg(2, eventBytes("schema", "", "etl", 0))); err != nil {
		t.Fatalf("schema event: %v", err)
	}
	if reg.reloads.Load() != 1 {
		t.Fatalf("reloads=%d want 1", reg.reloads.Load())
	}
}

func TestReadiness_FollowsAssignment(t *testing.T) {
	c := newConsumerForTest(&fakeCache{}, newRegistry())
	if ok, _ := c.Readiness(); ok {
		t.Fatalf("ready before assignment")
	}
	s := &sess{ctx: t.Context(), claims: map[string][]int32{"wfs-changes": {0, 2}}}
	g := &groupHandler{setup: c.onAssign, cleanup: c.onRevoke, process: c.ProcessOne}
	_ = g.Setup(s)
	ok, parts := c.Readiness()
	if !ok || len(parts) != 2 {
		t.Fatalf("ready=%v partitions=%v", ok, parts)
	}
	_ = g.Cleanup(s)
	if ok, _ := c.Readiness(); ok {
		t.Fatalf("still ready after revoke")
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc, newRegistry())
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: eventBytes("update", "roads", "a", 0)}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: eventBytes("update", "roads", "a", time.Second)}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: eventBytes("update", "rivers", "b", 0)}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: eventBytes("update", "rivers", "b", time.Second)}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.InvalidationCfg{Brokers: " a:9092, ,b:9092", Topic: "t", GroupID: "g"})
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "b:9092" || cfg.Topic != "t" || cfg.GroupID != "g" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
