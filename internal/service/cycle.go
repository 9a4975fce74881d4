package service

import (
	"context"
	"sync"
	"time"
)

// cycleController paces the control loop. The interval can be replaced
// at runtime (profile switch); a pending wait is interrupted so the new
// cadence takes effect immediately.
type cycleController struct {
	mu       sync.RWMutex
	interval time.Duration
	notify   chan struct{}
}

func newCycleController(interval time.Duration) *cycleController {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &cycleController{
		interval: interval,
		notify:   make(chan struct{}, 1),
	}
}

// Wait blocks until the next tick is due or the context is cancelled.
func (c *cycleController) Wait(ctx context.Context) (time.Time, error) {
	for {
		c.mu.RLock()
		interval := c.interval
		c.mu.RUnlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return time.Time{}, ctx.Err()
		case <-timer.C:
			return time.Now(), nil
		case <-c.notify:
			if !timer.Stop() {
				<-timer.C
			}
			continue
		}
	}
}

// SetInterval replaces the tick interval.
func (c *cycleController) SetInterval(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	c.mu.Lock()
	if c.interval == d {
		c.mu.Unlock()
		return
	}
	c.interval = d
	c.mu.Unlock()
	c.signal()
}

// Interval reports the current tick interval.
func (c *cycleController) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

func (c *cycleController) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
