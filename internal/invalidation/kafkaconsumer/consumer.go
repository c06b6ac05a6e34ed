// Package kafkaconsumer applies invalidation events from a Kafka topic to the ingest caches.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
	"github.com/mohammed-shakir/wfs-ingest/internal/invalidation"
	mylog "github.com/mohammed-shakir/wfs-ingest/internal/logger"
)

// Invalidator drops cached entries for a layer; an empty layer clears everything
type Invalidator interface {
	ClearCache(ctx context.Context, layerID string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	target Invalidator
	zlog   *zerolog.Logger
	ver    *versionDedupe
}

func New(cfg Config, logger *slog.Logger, target Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	zl := zerolog.New(os.Stdout).With().Timestamp().Str("component", "kafka_consumer").Logger()
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		target: target,
		zlog:   &zl,
		ver:    newVersionDedupe(cfg.DedupeSize),
	}
}

// Start consumes invalidation events until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("kafkaconsumer: missing invalidation target")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, logger: c.logger}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single event. A non-nil error leaves the offset unmarked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = mylog.WithComponent(ctx, "kafka_consumer")

	ev, err := invalidation.Decode(msg.Value)
	if err != nil {
		obs.IncKafkaConsumerError("decode")
		mylog.FromContext(ctx, c.zlog).Error().
			Err(err).
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return err
	}

	layer := ev.Layer
	if ev.Op == invalidation.OpClear && layer == "*" {
		layer = ""
	}
	ctx = mylog.WithLayer(ctx, layer)

	dkey, ts := layer, ev.TS.UnixNano()
	if dkey == "" {
		dkey = "*"
	}
	if c.ver.seen(dkey, ts) {
		c.logger.DebugContext(ctx, "stale invalidation skipped", "op", ev.Op, "ts", ev.TS)
		return nil
	}
	if err := c.target.ClearCache(ctx, layer); err != nil {
		obs.IncKafkaConsumerError("clear")
		mylog.FromContext(ctx, c.zlog).Error().
			Err(err).
			Str("kind", "clear").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Msg("kafka error")
		return fmt.Errorf("clear cache: %w", err)
	}

	c.ver.record(dkey, ts)
	obs.IncInvalidation("kafka")
	c.logger.DebugContext(ctx, "cache invalidated", "op", ev.Op, "source", ev.Source)
	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).
		Msg("cache invalidated")
	return nil
}
