package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

// groupHandler feeds each claimed partition of the invalidation topic through process
type groupHandler struct {
	process messageProcessor
	logger  *slog.Logger
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.logger != nil {
		h.logger.Info("invalidation partitions assigned",
			"generation", sess.GenerationID(), "claims", sess.Claims())
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.logger != nil {
		h.logger.Debug("invalidation partitions released", "generation", sess.GenerationID())
	}
	return nil
}

// ConsumeClaim processes a partition in order and marks each offset only after
// its cache clear succeeded. A failed event ends the claim unmarked so the
// group redelivers it from the last committed offset.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("invalidation claim %s/%d: %w", claim.Topic(), claim.Partition(), ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("invalidation event %s/%d@%d: %w",
					claim.Topic(), claim.Partition(), msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
