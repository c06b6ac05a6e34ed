package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeSize bounds the per-layer last-applied timestamp memory
	DedupeSize int
}

// FromConfig maps the service invalidation settings onto consumer group tuning
func FromConfig(cfg config.InvalidationCfg) Config {
	return Config{
		Brokers:             cfg.BrokerList(),
		Topic:               cfg.Topic,
		GroupID:             cfg.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
		DedupeSize:          4096,
	}
}
