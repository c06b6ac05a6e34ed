// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type WFSCfg struct {
	URL           string
	Layer         string
	CapsSRS       string
	Timeout       time.Duration
	Retries       int
	BackoffBase   time.Duration
	MaxFeatures   int
	AppendBBox    bool
	LargeXMLBytes int
}

type CacheCfg struct {
	GeometryMax    int
	FeatureLRU     int
	RedisAddr      string
	RedisKeyPrefix string
	OpTimeout      time.Duration
}

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	MetricsEnabled bool
	NormalizeBatch int
	WFS            WFSCfg
	Cache          CacheCfg
	Invalidation   InvalidationCfg
}

func FromEnv() Config {
	retries := getint("WFS_RETRIES", 3)
	if retries < 0 {
		retries = 0
	}
	maxFeatures := getint("WFS_MAX_FEATURES", 5000)
	if maxFeatures <= 0 {
		maxFeatures = 5000
	}
	brokers := getenv("KAFKA_BROKERS", "localhost:9092")

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		NormalizeBatch: getint("NORMALIZE_BATCH", 100),
		WFS: WFSCfg{
			URL:           getenv("WFS_URL", "https://data.linz.govt.nz/services;key=/wfs"),
			Layer:         getenv("WFS_LAYER", "layer-50772"),
			CapsSRS:       getenv("WFS_CAPS_SRS", ""),
			Timeout:       getduration("WFS_TIMEOUT", 30*time.Second),
			Retries:       retries,
			BackoffBase:   getduration("WFS_BACKOFF_BASE", time.Second),
			MaxFeatures:   maxFeatures,
			AppendBBox:    getbool("WFS_APPEND_BBOX", false),
			LargeXMLBytes: getint("WFS_LARGE_XML_BYTES", 1<<20),
		},
		Cache: CacheCfg{
			GeometryMax:    getint("GEOM_CACHE_MAX", 10000),
			FeatureLRU:     getint("FEATURE_CACHE_LRU", 0),
			RedisAddr:      getenv("REDIS_ADDR", ""),
			RedisKeyPrefix: getenv("REDIS_KEY_PREFIX", "wfsresp:"),
			OpTimeout:      getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "kafka"),
			Topic:   getenv("KAFKA_TOPIC", "wfs-invalidation"),
			Brokers: brokers,
			GroupID: getenv("KAFKA_GROUP_ID", "wfs-cache-invalidator"),
		},
	}
}

// BrokerList splits the comma separated broker setting
func (c InvalidationCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
