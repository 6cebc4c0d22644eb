package mudis

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kiebor81/mudis/router"
	"github.com/kiebor81/mudis/shard"
)

// opOptions carries the optional parameters every Facade operation
// accepts (namespace, ttl, force, singleflight). Built from a slice of
// Option functions rather than named parameters, since Go has neither.
type opOptions struct {
	namespace string
	// ttl is nil when the caller never passed WithTTL — distinct from a
	// requested TTL of exactly zero, which is an explicit "expire
	// immediately" request (§8). See effectiveTTL.
	ttl          *time.Duration
	force        bool
	singleflight bool
}

// Option configures one optional parameter of a Facade call.
type Option func(*opOptions)

// InNamespace scopes the call to namespace, overriding any namespace
// carried by the context via WithNamespace.
func InNamespace(ns string) Option { return func(o *opOptions) { o.namespace = ns } }

// WithTTL requests ttl for Write/Update/Replace/Fetch; subject to
// effective_ttl's clamp/default rules (§4.6). A ttl of exactly zero is a
// distinct, explicit request to expire immediately — it is never treated
// the same as omitting WithTTL altogether.
func WithTTL(ttl time.Duration) Option { return func(o *opOptions) { o.ttl = &ttl } }

// WithForce makes Fetch recompute unconditionally instead of returning
// an existing value.
func WithForce() Option { return func(o *opOptions) { o.force = true } }

// WithSingleflight enables de-duplication of concurrent Fetch misses on
// the same effective key (§4.7).
func WithSingleflight() Option { return func(o *opOptions) { o.singleflight = true } }

func buildOptions(opts []Option) opOptions {
	var o opOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// resolvedKey validates the namespace and computes the effective key for
// one call; ctx and the explicit InNamespace option are reconciled the
// way resolveNamespace documents. Every per-key Facade operation routes
// through here, so this is also where a closed cache rejects calls.
func (c *Cache) resolvedKey(ctx context.Context, key string, o opOptions) (ns, effKey string, err error) {
	if c.closed.Load() {
		return "", "", ErrClosed
	}
	ns = resolveNamespace(ctx, o.namespace)
	if err := validateNamespace(ns); err != nil {
		return "", "", err
	}
	return ns, effectiveKey(ns, key), nil
}

func (c *Cache) encodeValue(v any) (payload []byte, compressed bool, err error) {
	payload, err = c.codec.Encode(v)
	if err != nil {
		return nil, false, err
	}
	if c.compressor != nil {
		payload, err = c.compressor.Compress(payload)
		if err != nil {
			return nil, false, err
		}
		compressed = true
	}
	return payload, compressed, nil
}

func (c *Cache) decodeValue(payload []byte, compressed bool) (any, error) {
	if compressed {
		raw, err := c.compressor.Decompress(payload)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	return c.codec.Decode(payload)
}

// Read returns the decoded value for key, or ok == false on a miss
// (absent or lazily-expired — both are silent, §7). A decode failure on
// a corrupted payload is fatal: the entry is removed and the error
// surfaced (§7).
func (c *Cache) Read(ctx context.Context, key string, opts ...Option) (any, bool, error) {
	o := buildOptions(opts)
	ns, effKey, err := c.resolvedKey(ctx, key, o)
	if err != nil {
		return nil, false, err
	}
	s := c.shardFor(effKey)

	payload, compressed, ok, expiredRemoved := s.Get(effKey, c.now(), c.acct)
	if !ok || expiredRemoved {
		c.reg.Miss(ns)
		return nil, false, nil
	}

	val, err := c.decodeValue(payload, compressed)
	if err != nil {
		s.Delete(effKey, c.acct)
		return nil, false, err
	}
	c.reg.Hit(ns)
	return val, true, nil
}

// Write encodes value and stores it under key, replacing any existing
// entry. Oversized payloads (over MaxValueBytes) and hard-cap overflows
// are rejected silently per §4.4/§4.9: Write returns nil either way,
// since absence is itself a valid observable outcome.
func (c *Cache) Write(ctx context.Context, key string, value any, opts ...Option) error {
	o := buildOptions(opts)
	ns, effKey, err := c.resolvedKey(ctx, key, o)
	if err != nil {
		return err
	}

	payload, compressed, err := c.encodeValue(value)
	if err != nil {
		return err
	}

	c.cfgMu.RLock()
	maxValueBytes := c.cfg.MaxValueBytes
	hardLimit := c.cfg.HardMemoryLimit
	defaultTTL, maxTTL := c.cfg.DefaultTTL, c.cfg.MaxTTL
	c.cfgMu.RUnlock()

	if maxValueBytes > 0 && int64(len(payload)) > maxValueBytes {
		c.reg.Reject(ns)
		return nil
	}

	now := c.now()
	ttl, immediate := effectiveTTL(o.ttl, defaultTTL, maxTTL)
	expAt := expiresAt(now, ttl, immediate)

	s := c.shardFor(effKey)
	rejected, evicted := s.Put(effKey, ns, payload, expAt, now, compressed, c.acct, hardLimit)
	for _, ev := range evicted {
		c.reg.Evict(ev.Namespace)
	}
	if rejected {
		c.reg.Reject(ns)
	}
	c.reportSize()
	return nil
}

// Update reads the current value (or (nil, false) if absent), invokes fn
// outside any shard lock, and commits the result. TTL is preserved from
// the prior entry's original duration (created_at → expires_at); a
// brand-new key created this way uses the configured default/max TTL.
// Touches are left untouched — only Read increments them.
func (c *Cache) Update(ctx context.Context, key string, fn func(current any, ok bool) any, opts ...Option) error {
	o := buildOptions(opts)
	ns, effKey, err := c.resolvedKey(ctx, key, o)
	if err != nil {
		return err
	}

	now := c.now()
	s := c.shardFor(effKey)

	entry, existed := s.Peek(effKey, now, c.acct)
	var current any
	if existed {
		current, err = c.decodeValue(entry.Payload, entry.Compressed)
		if err != nil {
			s.Delete(effKey, c.acct)
			return err
		}
	}

	next := fn(current, existed)

	payload, compressed, err := c.encodeValue(next)
	if err != nil {
		return err
	}

	c.cfgMu.RLock()
	maxValueBytes := c.cfg.MaxValueBytes
	hardLimit := c.cfg.HardMemoryLimit
	defaultTTL, maxTTL := c.cfg.DefaultTTL, c.cfg.MaxTTL
	c.cfgMu.RUnlock()

	var expAt int64
	if existed && entry.ExpiresAt != 0 {
		expAt = now + (entry.ExpiresAt - entry.CreatedAt)
	} else if !existed {
		ttl, immediate := effectiveTTL(o.ttl, defaultTTL, maxTTL)
		expAt = expiresAt(now, ttl, immediate)
	}

	stillExisted, rejected, evicted := s.CommitUpdate(effKey, payload, expAt, maxValueBytes, c.acct, hardLimit)
	for _, ev := range evicted {
		c.reg.Evict(ev.Namespace)
	}
	if rejected {
		c.reg.Reject(ns)
		c.reportSize()
		return nil
	}
	if !stillExisted {
		// Either the key never existed, or it was deleted concurrently
		// between Peek and CommitUpdate; either way, upsert it now.
		rejected, evicted = s.Put(effKey, ns, payload, expAt, now, compressed, c.acct, hardLimit)
		for _, ev := range evicted {
			c.reg.Evict(ev.Namespace)
		}
		if rejected {
			c.reg.Reject(ns)
		}
	}
	c.reportSize()
	return nil
}

// Delete removes key if present. Clear is its alias.
func (c *Cache) Delete(ctx context.Context, key string, opts ...Option) error {
	o := buildOptions(opts)
	_, effKey, err := c.resolvedKey(ctx, key, o)
	if err != nil {
		return err
	}
	c.shardFor(effKey).Delete(effKey, c.acct)
	c.reportSize()
	return nil
}

// Clear is an alias for Delete (§4.9: "delete/clear ... same semantics").
func (c *Cache) Clear(ctx context.Context, key string, opts ...Option) error {
	return c.Delete(ctx, key, opts...)
}

// Replace writes value under key only if key already exists; it is a
// no-op (returns applied == false, nil error) when the key is absent.
func (c *Cache) Replace(ctx context.Context, key string, value any, opts ...Option) (bool, error) {
	o := buildOptions(opts)
	_, effKey, err := c.resolvedKey(ctx, key, o)
	if err != nil {
		return false, err
	}
	s := c.shardFor(effKey)
	if _, ok := s.Peek(effKey, c.now(), c.acct); !ok {
		return false, nil
	}
	if err := c.Write(ctx, key, value, opts...); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether key is present and unexpired, without
// promoting it to MRU or incrementing its touch counter.
func (c *Cache) Exists(ctx context.Context, key string, opts ...Option) (bool, error) {
	o := buildOptions(opts)
	_, effKey, err := c.resolvedKey(ctx, key, o)
	if err != nil {
		return false, err
	}
	_, ok := c.shardFor(effKey).Peek(effKey, c.now(), c.acct)
	return ok, nil
}

// Fetch returns the value for key, computing it via fn on a miss (or
// unconditionally when WithForce is set) and writing the result back.
// With WithSingleflight, concurrent misses on the same effective key
// coalesce onto a single fn invocation (§4.7); without it, every caller
// that misses invokes fn independently.
func (c *Cache) Fetch(ctx context.Context, key string, fn func(ctx context.Context) (any, error), opts ...Option) (any, error) {
	o := buildOptions(opts)
	_, effKey, err := c.resolvedKey(ctx, key, o)
	if err != nil {
		return nil, err
	}

	if !o.force {
		if val, ok, err := c.Read(ctx, key, opts...); err != nil {
			return nil, err
		} else if ok {
			return val, nil
		}
	}

	compute := func(ctx context.Context) (any, error) {
		val, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Write(ctx, key, val, opts...); err != nil {
			return nil, err
		}
		return val, nil
	}

	if o.singleflight {
		return c.sf.Do(ctx, effKey, compute)
	}
	return compute(ctx)
}

// InspectResult is the metadata record Inspect returns for one key.
type InspectResult struct {
	Key        string
	ShardIndex int
	ExpiresAt  int64
	CreatedAt  int64
	SizeBytes  int64
	Compressed bool
}

// Inspect returns metadata for key without decoding its payload or
// affecting LRU order/touch count.
func (c *Cache) Inspect(ctx context.Context, key string, opts ...Option) (InspectResult, bool, error) {
	o := buildOptions(opts)
	_, effKey, err := c.resolvedKey(ctx, key, o)
	if err != nil {
		return InspectResult{}, false, err
	}

	c.cfgMu.RLock()
	n := len(c.shards)
	c.cfgMu.RUnlock()

	entry, ok := c.shardFor(effKey).Peek(effKey, c.now(), c.acct)
	if !ok {
		return InspectResult{}, false, nil
	}
	return InspectResult{
		Key:        key,
		ShardIndex: router.Index(effKey, n),
		ExpiresAt:  entry.ExpiresAt,
		CreatedAt:  entry.CreatedAt,
		SizeBytes:  int64(len(effKey) + len(entry.Payload)),
		Compressed: entry.Compressed,
	}, true, nil
}

func (c *Cache) snapshotShards() []*shard.Shard {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.shards
}

// Keys returns the raw keys of every resident entry in namespace, with
// the "{namespace}:" prefix stripped. namespace must be non-empty
// (§4.5): calling with none is a caller error.
func (c *Cache) Keys(namespace string) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if namespace == "" {
		return nil, ErrMissingNamespace
	}
	prefix := namespace + nsDelimiter
	var out []string
	for _, s := range c.snapshotShards() {
		for _, kt := range s.Snapshot() {
			if strings.HasPrefix(kt.Key, prefix) {
				out = append(out, strings.TrimPrefix(kt.Key, prefix))
			}
		}
	}
	return out, nil
}

// ClearNamespace deletes every key in namespace, one shard at a time.
// namespace must be non-empty.
func (c *Cache) ClearNamespace(namespace string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if namespace == "" {
		return ErrMissingNamespace
	}
	prefix := namespace + nsDelimiter
	for _, s := range c.snapshotShards() {
		s.ClearPrefix(prefix, c.acct)
	}
	c.reportSize()
	return nil
}

// TouchRecord is one (key, namespace, touches) entry, as returned by
// LeastTouched and embedded in a Metrics snapshot.
type TouchRecord struct {
	Key       string
	Namespace string
	Touches   uint64
}

// LeastTouched returns up to n resident keys ordered ascending by touch
// count, ties broken by effective key so the order is stable across calls.
func (c *Cache) LeastTouched(n int) []TouchRecord {
	var all []TouchRecord
	for _, s := range c.snapshotShards() {
		for _, kt := range s.Snapshot() {
			all = append(all, TouchRecord{Key: kt.Key, Namespace: kt.Namespace, Touches: kt.Touches})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Touches != all[j].Touches {
			return all[i].Touches < all[j].Touches
		}
		return all[i].Key < all[j].Key
	})
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// AllKeys returns every effective key resident in the cache, in no
// particular order. Diagnostic only.
func (c *Cache) AllKeys() []string {
	var out []string
	for _, s := range c.snapshotShards() {
		for _, kt := range s.Snapshot() {
			out = append(out, kt.Key)
		}
	}
	return out
}
