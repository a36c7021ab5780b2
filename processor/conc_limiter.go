package processor

import (
	"context"
	"sync"
)

// ConcLimiter caps the number of extractions running at once. Wait
// blocks until every acquired slot has been released.
type ConcLimiter struct {
	wg   sync.WaitGroup
	pool chan struct{}
}

func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel < 1 {
		cLevel = 1
	}
	return &ConcLimiter{pool: make(chan struct{}, cLevel)}
}

// Acquire takes a slot, giving up when ctx is done first.
func (c *ConcLimiter) Acquire(ctx context.Context) error {
	select {
	case c.pool <- struct{}{}:
		c.wg.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ConcLimiter) Release() {
	select {
	case <-c.pool:
		c.wg.Done()
	default:
	}
}

func (c *ConcLimiter) InFlight() int {
	return len(c.pool)
}

func (c *ConcLimiter) Capacity() int {
	return cap(c.pool)
}

func (c *ConcLimiter) Wait() {
	c.wg.Wait()
}
