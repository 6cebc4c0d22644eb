package mudis

import "testing"

func TestAccountantTryAdjustSoftNeverBlocks(t *testing.T) {
	a := newAccountant(100)
	if !a.TryAdjust(1000, false) {
		t.Fatal("soft accounting must never refuse a positive delta")
	}
	if a.Total() != 1000 {
		t.Fatalf("got %d, want 1000", a.Total())
	}
}

func TestAccountantTryAdjustHardLimitRejectsOverflow(t *testing.T) {
	a := newAccountant(100)
	if !a.TryAdjust(90, true) {
		t.Fatal("90 <= 100 must succeed")
	}
	if a.TryAdjust(20, true) {
		t.Fatal("90+20 > 100 must be rejected")
	}
	if a.Total() != 90 {
		t.Fatalf("rejected adjust must not change total, got %d", a.Total())
	}
}

func TestAccountantNegativeDeltaAlwaysSucceeds(t *testing.T) {
	a := newAccountant(10)
	a.TryAdjust(10, true)
	if !a.TryAdjust(-5, true) {
		t.Fatal("releases must always succeed")
	}
	if a.Total() != 5 {
		t.Fatalf("got %d, want 5", a.Total())
	}
}

func TestAccountantResetZeroesTotal(t *testing.T) {
	a := newAccountant(100)
	a.TryAdjust(50, false)
	a.Reset()
	if a.Total() != 0 {
		t.Fatalf("got %d, want 0 after reset", a.Total())
	}
}

func TestAccountantConcurrentAdjustNeverExceedsHardCap(t *testing.T) {
	a := newAccountant(1000)
	done := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		go func() { done <- a.TryAdjust(10, true) }()
	}
	accepted := 0
	for i := 0; i < 200; i++ {
		if <-done {
			accepted++
		}
	}
	if a.Total() > 1000 {
		t.Fatalf("hard cap invariant violated: total=%d", a.Total())
	}
	if int64(accepted)*10 != a.Total() {
		t.Fatalf("accepted adjustments (%d*10) must equal total (%d)", accepted, a.Total())
	}
}
