package mudis

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kiebor81/mudis/codec"
	"github.com/kiebor81/mudis/metrics"
)

// Serializer names a Codec strategy (§4.1/§6). Re-exported from codec so
// callers configuring a Cache never need to import the codec package
// directly.
type Serializer = codec.Strategy

const (
	SerializerJSON     = codec.JSON
	SerializerBinary   = codec.Binary
	SerializerFastJSON = codec.FastJSON
)

// PersistenceFormat names the on-disk snapshot container format (§6).
type PersistenceFormat string

const (
	PersistenceJSON   PersistenceFormat = "json"
	PersistenceBinary PersistenceFormat = "binary"
)

// envShardCountVar is the environment override for ShardCount (§6).
const envShardCountVar = "MUDIS_BUCKETS"

const defaultShardCount = 32

// Config enumerates every recognized configuration field (§4.11/§6).
// The zero value is not valid; build one with DefaultConfig() and
// override only the fields you need.
type Config struct {
	Serializer        Serializer
	Compress          bool
	MaxBytes          int64
	MaxValueBytes     int64 // 0 disables the per-value size cap
	HardMemoryLimit   bool
	EvictionThreshold float64
	ShardCount        int

	MaxTTL     time.Duration // 0 = no cap
	DefaultTTL time.Duration // 0 = no default TTL

	// SweepInterval is the background TTL sweeper's wake period (§4.6).
	// Not itself named in the external config table, which only describes
	// the *effect* of sweeping. Nil means "unset" and picks up the 30s
	// default; a non-nil pointer to zero is a distinct, explicit request
	// to disable the sweeper entirely (lazy purge on read is always
	// active regardless). Use a local variable or NoSweep to set it.
	SweepInterval *time.Duration

	PersistenceEnabled   bool
	PersistencePath      string
	PersistenceFormat    PersistenceFormat
	PersistenceSafeWrite bool

	// Logger receives rare, non-hot-path events: sweeper errors,
	// persistence I/O failures, corrupted payloads on decode. Defaults to
	// a no-op logger, the way arena-cache's config.go does.
	Logger *zap.Logger

	// MetricsSink, if set, receives the same Hit/Miss/Evict/Reject signals
	// the Registry itself tracks (e.g. a Prometheus adapter). Optional.
	MetricsSink metrics.Sink

	// Now overrides the clock used for TTL math and snapshot timestamps.
	// Nil (the default) uses time.Now().UnixNano(); tests supply a
	// deterministic clock instead.
	Now func() int64
}

// DefaultConfig returns the configuration described by §6's defaults
// table, with ShardCount honoring the MUDIS_BUCKETS environment override
// when set.
func DefaultConfig() Config {
	return Config{
		Serializer:           SerializerJSON,
		Compress:             false,
		MaxBytes:             1 << 30, // 1073741824
		MaxValueBytes:        0,
		HardMemoryLimit:      false,
		EvictionThreshold:    0.9,
		ShardCount:           resolveShardCount(),
		MaxTTL:               0,
		DefaultTTL:           0,
		SweepInterval:        durationPtr(30 * time.Second),
		PersistenceEnabled:   false,
		PersistencePath:      "mudis_data",
		PersistenceFormat:    PersistenceJSON,
		PersistenceSafeWrite: true,
		Logger:               zap.NewNop(),
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }

// NoSweep explicitly disables the background TTL sweeper, leaving lazy
// purge-on-read as the only expiry path. Assign its result to
// Config.SweepInterval rather than leaving the field nil, which instead
// picks up the 30s default.
func NoSweep() *time.Duration { return durationPtr(0) }

func resolveShardCount() int {
	if v := os.Getenv(envShardCountVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultShardCount
}

// Validate checks the full record before any live state is mutated, the
// way C11's "configure then apply" step requires. It never has side
// effects.
func (c Config) Validate() error {
	if c.MaxBytes <= 0 {
		return fmt.Errorf("%w: max_bytes must be > 0", ErrInvalidConfig)
	}
	if c.MaxValueBytes < 0 || c.MaxValueBytes > c.MaxBytes {
		return fmt.Errorf("%w: max_value_bytes must be > 0 and <= max_bytes, or 0 to disable", ErrInvalidConfig)
	}
	if c.EvictionThreshold <= 0 || c.EvictionThreshold > 1 {
		return fmt.Errorf("%w: eviction_threshold must satisfy 0 < x <= 1", ErrInvalidConfig)
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("%w: shard_count must be > 0", ErrInvalidConfig)
	}
	if c.MaxTTL < 0 {
		return fmt.Errorf("%w: max_ttl must be > 0 or unset", ErrInvalidConfig)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("%w: default_ttl must be > 0 or unset", ErrInvalidConfig)
	}
	if c.SweepInterval != nil && *c.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep_interval must be >= 0", ErrInvalidConfig)
	}
	if _, err := codec.New(c.Serializer); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.PersistenceFormat {
	case "", PersistenceJSON, PersistenceBinary:
	default:
		return fmt.Errorf("%w: persistence_format must be json or binary", ErrInvalidConfig)
	}
	return nil
}

// withDefaults fills in zero-value fields that DefaultConfig would have
// set, so a caller-supplied Config with only a few fields overridden
// still behaves sanely. Fields whose zero value is meaningful (Compress,
// HardMemoryLimit, the TTL fields, MaxValueBytes) are left untouched.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Serializer == "" {
		c.Serializer = d.Serializer
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = d.MaxBytes
	}
	if c.EvictionThreshold == 0 {
		c.EvictionThreshold = d.EvictionThreshold
	}
	if c.ShardCount == 0 {
		c.ShardCount = d.ShardCount
	}
	if c.PersistencePath == "" {
		c.PersistencePath = d.PersistencePath
	}
	if c.PersistenceFormat == "" {
		c.PersistenceFormat = d.PersistenceFormat
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.SweepInterval == nil {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

func (c Config) thresholdBytes() int64 {
	return int64(float64(c.MaxBytes) * c.EvictionThreshold)
}

func (c Config) perShardThreshold() int64 {
	if c.ShardCount <= 0 {
		return 0
	}
	return c.thresholdBytes() / int64(c.ShardCount)
}
