package mudis

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// startSweep transitions the sweep thread Stopped → Running (§4.11's state
// machine). Calling it while already Running is a no-op; callers must not
// assume a second call restarts with a different interval.
func (c *Cache) startSweep(interval time.Duration) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweepState != sweepStopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.sweepCancel = cancel
	c.sweepDone = done
	c.sweepState = sweepRunning

	go c.sweepLoop(ctx, interval, done)
}

// stopSweep transitions Running → Stopping → Stopped, blocking until the
// sweeper thread has observed the stop signal at its sleep boundary (not
// mid-pass, per §5) and exited. A no-op when already Stopped.
func (c *Cache) stopSweep() {
	c.sweepMu.Lock()
	if c.sweepState != sweepRunning {
		c.sweepMu.Unlock()
		return
	}
	c.sweepState = sweepStopping
	cancel := c.sweepCancel
	done := c.sweepDone
	c.sweepMu.Unlock()

	cancel()
	<-done

	c.sweepMu.Lock()
	c.sweepState = sweepStopped
	c.sweepMu.Unlock()
}

// sweepLoop wakes every interval and sweeps each shard in turn; it only
// checks for the stop signal between ticks, never mid-pass over a
// shard's keys, per §5's cancellation note.
func (c *Cache) sweepLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

// sweepOnce performs one pass over every shard, evicting expired entries
// and bumping eviction metrics. A panic inside is recovered and logged
// (§7's "background sweeper exception" policy) so the sweeper continues
// on its next tick rather than killing the goroutine.
func (c *Cache) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("mudis: sweep pass panicked", zap.Any("recover", r))
		}
	}()

	now := c.now()
	c.cfgMu.RLock()
	shards := c.shards
	c.cfgMu.RUnlock()

	for _, s := range shards {
		for _, ev := range s.Sweep(now, c.acct) {
			c.reg.Evict(ev.Namespace)
		}
	}
	c.reportSize()
}
