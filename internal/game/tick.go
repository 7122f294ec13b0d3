package game

import "sync/atomic"

// TickClock is the simulation's only time source. The engine advances it
// once per step; everything in that step uses the same Current() value.
type TickClock struct {
	tick atomic.Uint64 // atomic so debug readers can sample it
}

// NewTickClock creates a clock whose Current() is start.
func NewTickClock(start uint64) *TickClock {
	c := &TickClock{}
	c.tick.Store(start)
	return c
}

// Advance increments the tick and returns the new value.
func (c *TickClock) Advance() uint64 {
	return c.tick.Add(1)
}

// Current returns the current tick.
func (c *TickClock) Current() uint64 {
	return c.tick.Load()
}
