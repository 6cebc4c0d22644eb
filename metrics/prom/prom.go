// Package prom adapts metrics.Registry's Sink hooks to Prometheus counters
// and gauges: hits, misses, evictions, a Reject counter for writes silently
// turned away (value too large or hard memory cap), and gauges for total resident
// memory plus per-shard byte usage. Evictions are tracked as a single
// counter regardless of whether the LRU list or the TTL sweeper triggered
// them.
package prom

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kiebor81/mudis/metrics"
)

// Adapter implements metrics.Sink and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evicts    prometheus.Counter
	rejected  prometheus.Counter
	totalSize prometheus.Gauge
	shardSize *prometheus.GaugeVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evictions_total",
			Help:        "Cache evictions (LRU or TTL sweep)",
			ConstLabels: constLabels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "rejected_total",
			Help:        "Writes silently rejected (value too large or hard memory cap)",
			ConstLabels: constLabels,
		}),
		totalSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_bytes",
			Help:        "Total resident bytes across all shards",
			ConstLabels: constLabels,
		}),
		shardSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "shard_size_bytes",
			Help:        "Resident bytes per shard",
			ConstLabels: constLabels,
		}, []string{"shard"}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.rejected, a.totalSize, a.shardSize)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter.
func (a *Adapter) Evict() { a.evicts.Inc() }

// Reject increments the silent-rejection counter.
func (a *Adapter) Reject() { a.rejected.Inc() }

// Size updates the total and per-shard resident-byte gauges. perShardBytes
// is indexed by shard number; the shard label is its decimal index.
func (a *Adapter) Size(totalBytes int64, perShardBytes []int64) {
	a.totalSize.Set(float64(totalBytes))
	for i, b := range perShardBytes {
		a.shardSize.WithLabelValues(strconv.Itoa(i)).Set(float64(b))
	}
}

// Compile-time check: ensure Adapter implements metrics.Sink.
var _ metrics.Sink = (*Adapter)(nil)
