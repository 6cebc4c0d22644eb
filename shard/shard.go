// Package shard implements one partition of the cache (C2 in the design):
// an effective-key map, an intrusive MRU↔LRU doubly linked list, and a byte
// counter, all guarded by one mutex. Effective keys are always strings and
// values are always the pre-encoded []byte payload the codec produced, so
// there is no generic key/value type parameter and no pluggable eviction
// policy: the LRU list is manipulated directly, fixed to a single
// algorithm.
package shard

import (
	"sync"
)

// Entry is the stored record for one effective key (§3 of the design).
type Entry struct {
	Payload    []byte
	ExpiresAt  int64 // absolute UnixNano deadline; 0 = no TTL
	CreatedAt  int64 // UnixNano of last write
	Touches    uint64
	Compressed bool
	// Namespace is carried alongside the entry so per-namespace metrics and
	// listings never need to reverse-parse the effective key (raw keys may
	// themselves contain ':', which would make that parse ambiguous).
	Namespace string
}

// Evicted identifies one entry removed by eviction or sweep, carrying
// enough to drive both global and per-namespace metrics.
type Evicted struct {
	Key       string
	Namespace string
}

// node is an intrusive doubly linked list element; head = MRU, tail = LRU.
// Exclusively owned by its Shard; never touched outside the shard mutex.
type node struct {
	key   string
	entry Entry
	prev  *node
	next  *node
}

func sizeOf(key string, payload []byte) int64 {
	return int64(len(key) + len(payload))
}

// Shard owns a map of effective key → Entry, the LRU list, and a byte
// counter. All mutation of any of the three requires mu.
type Shard struct {
	mu        sync.Mutex
	m         map[string]*node
	head      *node
	tail      *node
	bytes     int64
	threshold int64 // per-shard soft-eviction threshold; 0 = disabled
}

// New constructs an empty shard with the given per-shard soft threshold in
// bytes (0 disables soft eviction for this shard).
func New(thresholdBytes int64) *Shard {
	return &Shard{m: make(map[string]*node), threshold: thresholdBytes}
}

// SetThreshold updates the per-shard soft-eviction threshold. Safe to call
// concurrently with other shard operations.
func (s *Shard) SetThreshold(n int64) {
	s.mu.Lock()
	s.threshold = n
	s.mu.Unlock()
}

// Bytes returns the shard's current live byte total.
func (s *Shard) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Len returns the number of resident (not-necessarily-unexpired) entries.
func (s *Shard) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Accountant is the minimal view of the memory accountant (C4) a shard
// needs: a way to atomically reserve or release bytes from the global
// total. Kept as an interface here (rather than importing the accountant
// type directly) to avoid a cyclic dependency between shard and the root
// package that owns the accountant.
type Accountant interface {
	// TryAdjust attempts to change the global total by delta. When delta is
	// negative it always succeeds. When delta is positive and hardLimit is
	// true, it fails (returns false, no state change) if the new total
	// would exceed the configured cap.
	TryAdjust(delta int64, hardLimit bool) bool
}

// Get returns the entry for key if present and unexpired, promoting it to
// MRU and incrementing its touch counter. expiredRemoved reports whether a
// lazily-discovered expired entry was purged as a side effect (a miss, not
// an eviction — §7 treats expiry-on-read as silent).
func (s *Shard) Get(key string, now int64, acct Accountant) (value []byte, compressed bool, ok bool, expiredRemoved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, exists := s.m[key]
	if !exists {
		return nil, false, false, false
	}
	if n.entry.ExpiresAt != 0 && n.entry.ExpiresAt < now {
		s.unlinkAndDelete(n, acct)
		return nil, false, false, true
	}
	n.entry.Touches++
	s.moveToFront(n)
	return n.entry.Payload, n.entry.Compressed, true, false
}

// Peek returns a copy of the entry for key without promoting it or
// touching its read counter (used by Update/Inspect/Exists, which must not
// count as a "read" for least-touched purposes).
func (s *Shard) Peek(key string, now int64, acct Accountant) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, exists := s.m[key]
	if !exists {
		return Entry{}, false
	}
	if n.entry.ExpiresAt != 0 && n.entry.ExpiresAt < now {
		s.unlinkAndDelete(n, acct)
		return Entry{}, false
	}
	return n.entry, true
}

// Put inserts or replaces the entry for key. If the key already exists its
// Touches counter is preserved (only Get increments it — writes never
// reset or bump it). On success, it may evict other keys inline to
// satisfy the per-shard soft threshold; the evicted keys are returned for
// metrics.
//
// If hardLimit is true and accommodating the new/larger payload would grow
// the global total past its cap, the write is rejected: no state changes,
// rejected is true, and the prior value (if any) is left intact.
func (s *Shard) Put(key, namespace string, payload []byte, expiresAt, createdAt int64, compressed bool, acct Accountant, hardLimit bool) (rejected bool, evicted []Evicted) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, exists := s.m[key]
	var oldSize int64
	if exists {
		oldSize = sizeOf(key, n.entry.Payload)
	}
	newSize := sizeOf(key, payload)
	delta := newSize - oldSize

	if !acct.TryAdjust(delta, hardLimit) {
		return true, nil
	}

	if exists {
		n.entry.Payload = payload
		n.entry.ExpiresAt = expiresAt
		n.entry.CreatedAt = createdAt
		n.entry.Compressed = compressed
		n.entry.Namespace = namespace
		s.bytes += delta
		s.moveToFront(n)
	} else {
		n = &node{key: key, entry: Entry{
			Payload: payload, ExpiresAt: expiresAt, CreatedAt: createdAt,
			Compressed: compressed, Namespace: namespace,
		}}
		s.m[key] = n
		s.pushFront(n)
		s.bytes += newSize
	}

	return false, s.fillToFitLocked(n, acct)
}

// CommitUpdate applies the result of an Update block. It re-verifies the
// key still exists (the block ran without the shard mutex held, so another
// writer may have deleted or replaced it in the meantime); if the key is
// gone, ok is false and nothing happens. Touches are preserved; the entry
// is promoted to MRU. The entry being updated is never itself evicted to
// satisfy the soft threshold, though other keys may be.
func (s *Shard) CommitUpdate(key string, payload []byte, expiresAt int64, maxValueBytes int64, acct Accountant, hardLimit bool) (ok bool, rejected bool, evicted []Evicted) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, exists := s.m[key]
	if !exists {
		return false, false, nil
	}
	if maxValueBytes > 0 && int64(len(payload)) > maxValueBytes {
		return true, true, nil
	}

	oldSize := sizeOf(key, n.entry.Payload)
	newSize := sizeOf(key, payload)
	delta := newSize - oldSize

	if !acct.TryAdjust(delta, hardLimit) {
		return true, true, nil
	}

	// CreatedAt moves forward by as much as ExpiresAt does, so the TTL
	// duration (ExpiresAt - CreatedAt) that Update carries over stays the
	// same across any number of updates.
	if n.entry.ExpiresAt != 0 && expiresAt != 0 {
		n.entry.CreatedAt += expiresAt - n.entry.ExpiresAt
	}
	n.entry.Payload = payload
	n.entry.ExpiresAt = expiresAt
	s.bytes += delta
	s.moveToFront(n)

	return true, false, s.fillToFitLocked(n, acct)
}

// Delete removes key if present, releasing its bytes back to the
// accountant. It reports whether the key existed.
func (s *Shard) Delete(key string, acct Accountant) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, exists := s.m[key]
	if !exists {
		return false
	}
	s.unlinkAndDelete(n, acct)
	return true
}

// Sweep evicts every entry whose ExpiresAt is set and before now. It is
// called by the background TTL sweeper, one shard at a time, and returns
// the keys it removed so the caller can update eviction metrics.
func (s *Shard) Sweep(now int64, acct Accountant) []Evicted {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Evicted
	for n := s.head; n != nil; {
		next := n.next
		if n.entry.ExpiresAt != 0 && n.entry.ExpiresAt < now {
			removed = append(removed, Evicted{Key: n.key, Namespace: n.entry.Namespace})
			s.unlinkAndDelete(n, acct)
		}
		n = next
	}
	return removed
}

// KeyTouch is a (key, namespace, touches) record used for diagnostics.
type KeyTouch struct {
	Key       string
	Namespace string
	Touches   uint64
}

// Snapshot returns metadata for every resident key, expired or not — used
// by AllKeys/LeastTouched/Keys, which are diagnostic and do not need to
// force a lazy purge (the facade filters by namespace prefix and the
// background sweeper keeps the resident set close to the unexpired one).
func (s *Shard) Snapshot() []KeyTouch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]KeyTouch, 0, len(s.m))
	for k, n := range s.m {
		out = append(out, KeyTouch{Key: k, Namespace: n.entry.Namespace, Touches: n.entry.Touches})
	}
	return out
}

// ForEachLive invokes fn for every entry that is not expired as of now,
// under the shard mutex — used by snapshot persistence, which needs a
// consistent walk of the live set.
func (s *Shard) ForEachLive(now int64, fn func(key string, e Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := s.head; n != nil; n = n.next {
		if n.entry.ExpiresAt != 0 && n.entry.ExpiresAt < now {
			continue
		}
		fn(n.key, n.entry)
	}
}

// ClearPrefix deletes every key with the given prefix and returns how many
// were removed.
func (s *Shard) ClearPrefix(prefix string, acct Accountant) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for n := s.head; n != nil; {
		next := n.next
		if len(n.key) >= len(prefix) && n.key[:len(prefix)] == prefix {
			s.unlinkAndDelete(n, acct)
			removed++
		}
		n = next
	}
	return removed
}

// Stats is a per-shard observability record (§4.8).
type Stats struct {
	Index   int
	Keys    int
	Bytes   int64
	LRUSize int
}

// StatsSnapshot returns the shard's current size stats, tagged with index.
func (s *Shard) StatsSnapshot(index int) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Index: index, Keys: len(s.m), Bytes: s.bytes, LRUSize: len(s.m)}
}

// -------------------- internals (mu held) --------------------

func (s *Shard) pushFront(n *node) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *Shard) moveToFront(n *node) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *Shard) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (s *Shard) unlinkAndDelete(n *node, acct Accountant) {
	sz := sizeOf(n.key, n.entry.Payload)
	s.unlink(n)
	delete(s.m, n.key)
	s.bytes -= sz
	if s.bytes < 0 {
		s.bytes = 0
	}
	acct.TryAdjust(-sz, false)
}

// fillToFitLocked evicts LRU entries (never keep, which was just
// written/promoted to MRU) while the shard is over its soft threshold.
func (s *Shard) fillToFitLocked(keep *node, acct Accountant) []Evicted {
	if s.threshold <= 0 {
		return nil
	}
	var evicted []Evicted
	for s.bytes > s.threshold {
		victim := s.tail
		if victim == nil || victim == keep {
			break
		}
		evicted = append(evicted, Evicted{Key: victim.key, Namespace: victim.entry.Namespace})
		s.unlinkAndDelete(victim, acct)
	}
	return evicted
}
