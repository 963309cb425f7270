// Package admission enforces the global cap on concurrent control sessions.
package admission

import "sync/atomic"

// Controller counts active control sessions against a fixed cap. Acquire and
// Release are safe for concurrent use; two upgrades racing for the last slot
// are serialized by the atomic compare-and-swap so at most one wins.
type Controller struct {
	max   int64
	count atomic.Int64
}

// NewController returns a Controller with the given cap. A non-positive cap
// falls back to 50.
func NewController(max int) *Controller {
	if max <= 0 {
		max = 50
	}
	return &Controller{max: int64(max)}
}

// TryAcquire claims a session slot. It returns false, without side effects,
// when the cap is reached.
func (c *Controller) TryAcquire() bool {
	for {
		cur := c.count.Load()
		if cur >= c.max {
			return false
		}
		if c.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns a slot. Callers must release exactly once per successful
// TryAcquire, on every termination path.
func (c *Controller) Release() {
	if c.count.Add(-1) < 0 {
		panic("admission: release without acquire")
	}
}

// Active returns the current number of counted sessions.
func (c *Controller) Active() int {
	return int(c.count.Load())
}

// Max returns the configured cap.
func (c *Controller) Max() int {
	return int(c.max)
}
