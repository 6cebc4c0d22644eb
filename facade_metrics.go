package mudis

import (
	"github.com/kiebor81/mudis/metrics"
	"github.com/kiebor81/mudis/shard"
)

// metricsLeastTouchedN bounds the least-touched projection embedded in
// a MetricsSnapshot; §4.8 requires the projection but leaves its size
// unspecified.
const metricsLeastTouchedN = 10

// MetricsSnapshot is the facade-level view §4.8 describes: global
// counters, total memory, one Stats record per shard, and a bounded
// least-touched projection.
type MetricsSnapshot struct {
	Global       metrics.Counters
	TotalMemory  int64
	Shards       []shard.Stats
	LeastTouched []TouchRecord
}

// shardStats collects one Stats record per shard, under each shard's own
// mutex in turn. Shared by Metrics and reportSize so there is a single
// place that knows how to walk shards for size information.
func shardStats(shards []*shard.Shard) []shard.Stats {
	stats := make([]shard.Stats, len(shards))
	for i, s := range shards {
		stats[i] = s.StatsSnapshot(i)
	}
	return stats
}

// shardByteStats is shardStats projected down to just the byte totals,
// the shape reportSize forwards to the metrics sink's gauges.
func shardByteStats(shards []*shard.Shard) []int64 {
	stats := shardStats(shards)
	bytes := make([]int64, len(stats))
	for i, st := range stats {
		bytes[i] = st.Bytes
	}
	return bytes
}

// Metrics returns a consistent-at-read-instant snapshot of the global
// counters plus per-shard size stats (§4.8). Per-shard byte totals may
// be from slightly different instants since each shard mutex is taken
// in sequence; this is the same tradeoff §5 calls out for metrics().
func (c *Cache) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Global:       c.reg.Global(),
		TotalMemory:  c.acct.Total(),
		Shards:       shardStats(c.snapshotShards()),
		LeastTouched: c.LeastTouched(metricsLeastTouchedN),
	}
}

// NamespaceMetrics returns one namespace's counters, plus whether that
// namespace has ever been observed.
func (c *Cache) NamespaceMetrics(ns string) (metrics.Counters, bool) {
	return c.reg.Namespace(ns)
}
