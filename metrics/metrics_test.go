package metrics

import "testing"

type spySink struct {
	hits, misses, evicts, rejects int
	totalBytes                    int64
	perShardBytes                 []int64
}

func (s *spySink) Hit()    { s.hits++ }
func (s *spySink) Miss()   { s.misses++ }
func (s *spySink) Evict()  { s.evicts++ }
func (s *spySink) Reject() { s.rejects++ }
func (s *spySink) Size(total int64, perShard []int64) {
	s.totalBytes = total
	s.perShardBytes = perShard
}

func TestRegistryTracksGlobalAndPerNamespaceIndependently(t *testing.T) {
	r := New(nil)
	r.Hit("a")
	r.Hit("a")
	r.Hit("b")
	r.Miss("a")

	g := r.Global()
	if g.Hits != 3 || g.Misses != 1 {
		t.Fatalf("got %+v", g)
	}

	a, ok := r.Namespace("a")
	if !ok || a.Hits != 2 || a.Misses != 1 {
		t.Fatalf("got %+v ok=%v", a, ok)
	}
	b, ok := r.Namespace("b")
	if !ok || b.Hits != 1 {
		t.Fatalf("got %+v ok=%v", b, ok)
	}
}

func TestRegistryUnobservedNamespaceReportsFalse(t *testing.T) {
	r := New(nil)
	if _, ok := r.Namespace("never-seen"); ok {
		t.Fatal("expected ok=false for a namespace never touched")
	}
}

func TestRegistryForwardsToSink(t *testing.T) {
	spy := &spySink{}
	r := New(spy)
	r.Hit("")
	r.Miss("")
	r.Evict("")
	r.Reject("")
	r.Size(1024, []int64{512, 512})
	if spy.hits != 1 || spy.misses != 1 || spy.evicts != 1 || spy.rejects != 1 {
		t.Fatalf("got %+v", spy)
	}
	if spy.totalBytes != 1024 || len(spy.perShardBytes) != 2 {
		t.Fatalf("got totalBytes=%d perShardBytes=%v", spy.totalBytes, spy.perShardBytes)
	}
}

func TestRegistryResetZeroesEverything(t *testing.T) {
	r := New(nil)
	r.Hit("a")
	r.Evict("a")
	r.Reset()

	if g := r.Global(); g != (Counters{}) {
		t.Fatalf("expected zeroed global counters, got %+v", g)
	}
	if _, ok := r.Namespace("a"); ok {
		t.Fatal("expected namespace map cleared by Reset")
	}
}

func TestHasSinkReflectsWhetherARealSinkWasConfigured(t *testing.T) {
	if New(nil).HasSink() {
		t.Fatal("a nil sink must report HasSink() == false")
	}
	if !New(&spySink{}).HasSink() {
		t.Fatal("a configured sink must report HasSink() == true")
	}
}

func TestNoopSinkDiscardsEverySignal(t *testing.T) {
	var s Sink = NoopSink{}
	s.Hit()
	s.Miss()
	s.Evict()
	s.Reject()
	s.Size(0, nil)
}
