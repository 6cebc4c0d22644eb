package router

import "testing"

func TestIndexDeterministic(t *testing.T) {
	a := Index("user:123", 16)
	b := Index("user:123", 16)
	if a != b {
		t.Fatalf("hashing not deterministic: %d != %d", a, b)
	}
	if a < 0 || a >= 16 {
		t.Fatalf("index out of range: %d", a)
	}
}

func TestIndexSingleShard(t *testing.T) {
	if idx := Index("anything", 1); idx != 0 {
		t.Fatalf("expected shard 0 for a single shard, got %d", idx)
	}
	if idx := Index("anything", 0); idx != 0 {
		t.Fatalf("expected shard 0 for shardCount<=1, got %d", idx)
	}
}

func TestIndexDistribution(t *testing.T) {
	const shards = 8
	counts := make([]int, shards)
	for i := 0; i < 4000; i++ {
		k := string(rune('a'+i%26)) + string(rune(i))
		counts[Index(k, shards)]++
	}
	for i, c := range counts {
		if c == 0 {
			t.Fatalf("shard %d received no keys; distribution looks broken", i)
		}
	}
}
