package service

import "sync"

// CapacityManager caps the number of concurrently running nodes across every
// loaded plan, independent of any single plan's own limit, to bound host
// resource usage.
type CapacityManager struct {
	mu    sync.Mutex
	limit int
	inUse int
}

// NewCapacityManager creates a manager with the given ceiling. A limit of
// zero or less means unbounded.
func NewCapacityManager(limit int) *CapacityManager {
	return &CapacityManager{limit: limit}
}

// TryAcquire claims one slot if capacity remains.
func (c *CapacityManager) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && c.inUse >= c.limit {
		return false
	}
	c.inUse++
	return true
}

// Occupy claims one slot unconditionally, even past the limit. Recovery uses
// it for nodes inherited in an occupying state: the ceiling may be exceeded
// transiently, but no new work dispatches until the count drops below it.
func (c *CapacityManager) Occupy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inUse++
}

// Release returns one slot.
func (c *CapacityManager) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse > 0 {
		c.inUse--
	}
}

// InUse returns the number of claimed slots.
func (c *CapacityManager) InUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// SetLimit adjusts the ceiling. Running nodes are never preempted; a lowered
// limit takes effect as slots free up.
func (c *CapacityManager) SetLimit(limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = limit
}
