package mudis

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kiebor81/mudis/codec"
	"github.com/kiebor81/mudis/internal/singleflight"
	"github.com/kiebor81/mudis/metrics"
	"github.com/kiebor81/mudis/router"
	"github.com/kiebor81/mudis/shard"
)

// Cache is the public Facade (C9): the sharded map, memory accountant,
// metrics registry, codec, single-flight coordinator, and sweeper
// lifecycle wired together behind the operations in ops.go. The zero
// value is not usable; construct one with New.
type Cache struct {
	cfgMu sync.RWMutex
	cfg   Config

	codec      codec.Codec
	compressor codec.Compressor

	shards []*shard.Shard
	acct   *accountant
	reg    *metrics.Registry
	sf     *singleflight.Group
	logger *zap.Logger

	sweepMu     sync.Mutex
	sweepState  sweepState
	sweepCancel func()
	sweepDone   chan struct{}

	closed atomic.Bool
}

type sweepState int

const (
	sweepStopped sweepState = iota
	sweepRunning
	sweepStopping
)

// New validates cfg, builds an empty cache, optionally loads a prior
// snapshot, and starts the background sweeper if SweepInterval is
// nonzero. A bad Config is a caller error (§7); it is returned, not
// panicked — C11's "configure then apply" step never mutates live state
// on a validation failure, and there is no live state yet here.
func New(cfg Config) (*Cache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cd, err := codec.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	var comp codec.Compressor
	if cfg.Compress {
		comp = codec.NewDeflateCompressor()
	}

	sink := cfg.MetricsSink
	reg := metrics.New(sink)

	c := &Cache{
		cfg:        cfg,
		codec:      cd,
		compressor: comp,
		acct:       newAccountant(cfg.MaxBytes),
		reg:        reg,
		sf:         singleflight.NewGroup(),
		logger:     cfg.Logger,
	}
	c.buildShardsLocked()

	if cfg.PersistenceEnabled {
		if err := c.LoadSnapshot(); err != nil {
			c.logger.Warn("mudis: snapshot load failed", zap.Error(err))
		}
		installExitHook(c)
	}

	if cfg.SweepInterval != nil && *cfg.SweepInterval > 0 {
		c.startSweep(*cfg.SweepInterval)
	}

	return c, nil
}

// buildShardsLocked (re)allocates an empty shard set sized to
// cfg.ShardCount, with each shard's soft threshold computed from the
// current config. Callers must hold cfgMu for writing.
func (c *Cache) buildShardsLocked() {
	threshold := c.cfg.perShardThreshold()
	shards := make([]*shard.Shard, c.cfg.ShardCount)
	for i := range shards {
		shards[i] = shard.New(threshold)
	}
	c.shards = shards
}

func (c *Cache) now() int64 {
	if c.cfg.Now != nil {
		return c.cfg.Now()
	}
	return time.Now().UnixNano()
}

func (c *Cache) shardFor(effKey string) *shard.Shard {
	c.cfgMu.RLock()
	n := len(c.shards)
	s := c.shards[router.Index(effKey, n)]
	c.cfgMu.RUnlock()
	return s
}

// reportSize pushes current resident byte totals to the metrics sink
// (e.g. the Prometheus adapter's gauges), globally and per shard. Called
// after any operation that changes what is resident: Write, Update,
// Delete, ClearNamespace, Configure (on reshard), Reset, and each sweep
// tick. A no-op when no external sink is configured, so the default
// NoopSink path never pays for walking every shard under its mutex.
func (c *Cache) reportSize() {
	if !c.reg.HasSink() {
		return
	}
	perShard := shardByteStats(c.snapshotShards())
	c.reg.Size(c.acct.Total(), perShard)
}

// Configure validates newCfg and applies it atomically (C11). Changing
// ShardCount forces the same full rebuild Reset performs; every other
// field is applied live and never retroactively rewrites entries already
// stored under the old settings.
func (c *Cache) Configure(newCfg Config) error {
	if c.closed.Load() {
		return ErrClosed
	}
	newCfg = newCfg.withDefaults()
	if err := newCfg.Validate(); err != nil {
		return err
	}

	c.cfgMu.Lock()
	reshard := newCfg.ShardCount != c.cfg.ShardCount
	c.cfg = newCfg
	c.acct.SetMaxBytes(newCfg.MaxBytes)

	if reshard {
		c.buildShardsLocked()
		c.acct.Reset()
	} else {
		threshold := newCfg.perShardThreshold()
		for _, s := range c.shards {
			s.SetThreshold(threshold)
		}
	}
	c.cfgMu.Unlock()

	if reshard {
		// buildShardsLocked/acct.Reset just emptied everything; the
		// sink's gauges must reflect that rather than go stale until
		// the next size-changing operation.
		c.reportSize()
	}
	return nil
}

// Reset returns the cache to the state of a freshly configured instance
// (§4.11, invariant 9): sweeper stopped and restarted, shards rebuilt
// empty, accountant zeroed, metrics zeroed.
func (c *Cache) Reset() {
	c.stopSweep()

	c.cfgMu.Lock()
	c.buildShardsLocked()
	c.cfgMu.Unlock()

	c.acct.Reset()
	c.reg.Reset()
	c.reportSize()

	c.cfgMu.RLock()
	interval := c.cfg.SweepInterval
	c.cfgMu.RUnlock()
	if interval != nil && *interval > 0 {
		c.startSweep(*interval)
	}
}

// Close stops the sweeper, saves a final snapshot if persistence is
// enabled, and marks the cache closed. Calling Close more than once is
// safe; subsequent calls are no-ops.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.stopSweep()

	c.cfgMu.RLock()
	enabled := c.cfg.PersistenceEnabled
	c.cfgMu.RUnlock()
	if enabled {
		return c.saveSnapshot()
	}
	return nil
}

// CurrentMemoryBytes returns the live aggregate byte total across every
// shard (C4).
func (c *Cache) CurrentMemoryBytes() int64 { return c.acct.Total() }

// MaxMemoryBytes returns the configured hard/soft cap reference point.
func (c *Cache) MaxMemoryBytes() int64 {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg.MaxBytes
}
