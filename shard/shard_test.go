package shard

import "testing"

type fakeAccountant struct {
	total    int64
	maxBytes int64
}

func (a *fakeAccountant) TryAdjust(delta int64, hardLimit bool) bool {
	next := a.total + delta
	if hardLimit && delta > 0 && next > a.maxBytes {
		return false
	}
	a.total = next
	return true
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(0)
	acct := &fakeAccountant{maxBytes: 1 << 20}
	rejected, _ := s.Put("a", "", []byte("1"), 0, 1000, false, acct, false)
	if rejected {
		t.Fatal("unexpected rejection")
	}
	v, _, ok, expired := s.Get("a", 2000, acct)
	if !ok || expired || string(v) != "1" {
		t.Fatalf("got v=%q ok=%v expired=%v", v, ok, expired)
	}
}

func TestGetExpiredIsLazilyPurged(t *testing.T) {
	s := New(0)
	acct := &fakeAccountant{maxBytes: 1 << 20}
	s.Put("a", "", []byte("1"), 500, 100, false, acct, false)
	_, _, ok, expired := s.Get("a", 9000, acct)
	if ok || !expired {
		t.Fatalf("expected expired miss, got ok=%v expired=%v", ok, expired)
	}
	if s.Len() != 0 {
		t.Fatalf("expected lazy purge to remove the entry, Len=%d", s.Len())
	}
}

func TestFillToFitEvictsLRU(t *testing.T) {
	s := New(60) // per-shard soft threshold
	acct := &fakeAccountant{maxBytes: 1 << 20}
	s.Put("a", "", []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 0, 1, false, acct, false) // 50 bytes payload + 1 key
	_, evicted := s.Put("b", "", []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), 0, 2, false, acct, false)
	if len(evicted) == 0 {
		t.Fatal("expected eviction of a under soft threshold")
	}
	if _, _, ok, _ := s.Get("a", 10, acct); ok {
		t.Fatal("a should have been evicted")
	}
	if _, _, ok, _ := s.Get("b", 10, acct); !ok {
		t.Fatal("b should still be present")
	}
}

func TestPutRejectedUnderHardLimitLeavesPriorValueIntact(t *testing.T) {
	s := New(0)
	acct := &fakeAccountant{maxBytes: 100}
	rejected, _ := s.Put("a", "", []byte(rep("a", 90)), 0, 1, false, acct, true)
	if rejected {
		t.Fatal("first write should fit")
	}
	rejected, _ = s.Put("b", "", []byte(rep("b", 90)), 0, 2, false, acct, true)
	if !rejected {
		t.Fatal("expected rejection under hard limit")
	}
	if _, _, ok, _ := s.Get("b", 10, acct); ok {
		t.Fatal("rejected write must not be observable")
	}
	v, _, ok, _ := s.Get("a", 10, acct)
	if !ok || string(v) != rep("a", 90) {
		t.Fatal("prior value must remain intact after a rejected write")
	}
}

func TestTouchesPreservedAcrossPut(t *testing.T) {
	s := New(0)
	acct := &fakeAccountant{maxBytes: 1 << 20}
	s.Put("a", "", []byte("1"), 0, 1, false, acct, false)
	s.Get("a", 10, acct)
	s.Get("a", 10, acct)
	s.Put("a", "", []byte("2"), 0, 20, false, acct, false) // replace value
	e, ok := s.Peek("a", 10, acct)
	if !ok || e.Touches != 2 {
		t.Fatalf("expected touches preserved at 2, got %d", e.Touches)
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	s := New(0)
	acct := &fakeAccountant{maxBytes: 1 << 20}
	s.Put("expired", "", []byte("x"), 100, 1, false, acct, false)
	s.Put("fresh", "", []byte("y"), 9999, 1, false, acct, false)
	removed := s.Sweep(5000, acct)
	if len(removed) != 1 || removed[0].Key != "expired" {
		t.Fatalf("expected only 'expired' swept, got %v", removed)
	}
	if _, _, ok, _ := s.Get("fresh", 5000, acct); !ok {
		t.Fatal("fresh entry should survive the sweep")
	}
}

func TestClearPrefix(t *testing.T) {
	s := New(0)
	acct := &fakeAccountant{maxBytes: 1 << 20}
	s.Put("ns:a", "ns", []byte("1"), 0, 1, false, acct, false)
	s.Put("ns:b", "ns", []byte("2"), 0, 1, false, acct, false)
	s.Put("other:a", "other", []byte("3"), 0, 1, false, acct, false)
	n := s.ClearPrefix("ns:", acct)
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", s.Len())
	}
}

func rep(s string, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = s[0]
	}
	return string(out)
}
