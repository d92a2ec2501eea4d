package idb

import (
	"errors"
	"sync"
	"time"
)

// autoFlush is the ticker loop that starts background flushes
type autoFlush struct {
	stop chan struct{}
	done sync.WaitGroup
}

// StartAutoFlush starts a background flush every interval, if no flush is running
// and at least minDirty writes were recorded since the last successful flush.
// A running scheduler is replaced. It is a no-op when the tier is disabled or
// interval is not positive.
func (t *Tier) StartAutoFlush(interval time.Duration, minDirty int64) {
	if !t.cfg.Enabled || interval <= 0 {
		return
	}
	if minDirty < 1 {
		minDirty = 1
	}

	t.StopAutoFlush()

	a := &autoFlush{stop: make(chan struct{})}
	t.mu.Lock()
	t.auto = a
	t.mu.Unlock()

	a.done.Add(1)
	go func() {
		defer a.done.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-a.stop:
				return
			case <-ticker.C:
				t.autoFlushTick(minDirty)
			}
		}
	}()

	log.Infof("automatic flush every %v (min dirty keys: %d)", interval, minDirty)
}

func (t *Tier) autoFlushTick(minDirty int64) {
	t.mu.Lock()
	due := t.job == nil && !t.syncMode && t.dirty >= minDirty
	t.mu.Unlock()
	if !due {
		return
	}

	if _, err := t.BackgroundFlush(); err != nil && !errors.Is(err, ErrFlushInProgress) {
		log.Warningf("automatic flush failed to start: %v", err)
	}
}

// StopAutoFlush stops the scheduler started by StartAutoFlush and waits for it.
// A flush job that is already running is not affected.
func (t *Tier) StopAutoFlush() {
	t.mu.Lock()
	a := t.auto
	t.auto = nil
	t.mu.Unlock()

	if a == nil {
		return
	}
	close(a.stop)
	a.done.Wait()
}
