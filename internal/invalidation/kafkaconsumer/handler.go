package kafkaconsumer

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// groupHandler adapts a per-message function to sarama's consumer group
// callbacks. setup and cleanup observe partition assignment changes.
type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(s sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(s)
	}
	return nil
}

func (h *groupHandler) Cleanup(s sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(s)
	}
	return nil
}

// ConsumeClaim applies change events in partition order. An event is
// marked only once applied; the first failure ends the claim so the
// session restarts from the unmarked offset.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	msgs := claim.Messages()
	for {
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim %s/%d: %w", claim.Topic(), claim.Partition(), ctx.Err())
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			msg = m
		}
		if err := h.process(ctx, msg); err != nil {
			return fmt.Errorf("apply event %s/%d@%d (key %q): %w",
				msg.Topic, msg.Partition, msg.Offset, msg.Key, err)
		}
		sess.MarkMessage(msg, "")
	}
}
