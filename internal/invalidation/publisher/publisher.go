// Package publisher announces local data changes on the change-event
// topic.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/pgwfs/internal/invalidation"
)

type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	source   string
}

// New connects a synchronous producer to brokers.
func New(brokers []string, topic, source string) (*Publisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("publisher: brokers and topic are required")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Timeout = 5 * time.Second

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return NewWithProducer(p, topic, source), nil
}

func NewWithProducer(p sarama.SyncProducer, topic, source string) *Publisher {
	return &Publisher{producer: p, topic: topic, source: source}
}

// Publish sends ev keyed by layer, so events of one layer stay ordered
// within a partition. An empty Source is filled with the publisher's.
func (p *Publisher) Publish(ctx context.Context, ev invalidation.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Source == "" {
		ev.Source = p.source
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(ev.Layer),
		Value:     sarama.ByteEncoder(b),
		Timestamp: ev.TS,
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close producer: %w", err)
	}
	return nil
}
