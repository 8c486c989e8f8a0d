// Package clock implements the per-session pair of countdown timers.
// All arithmetic is in integer milliseconds. A Clock is not safe for
// concurrent use; callers serialize access through the owning session.
package clock

import "time"

// Color identifies the side a timer belongs to.
type Color string

const (
	White Color = "white"
	Black Color = "black"
	None  Color = ""
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	}
	return None
}

// Pair is the serializable clock state. Running is None while paused.
type Pair struct {
	WhiteMs     int64     `json:"white_ms"`
	BlackMs     int64     `json:"black_ms"`
	IncrementMs int64     `json:"increment_ms"`
	Running     Color     `json:"running"`
	LastTick    time.Time `json:"last_tick"`
}

// Remaining returns the stored remaining time for a side.
func (p Pair) Remaining(side Color) int64 {
	if side == White {
		return p.WhiteMs
	}
	return p.BlackMs
}

type Clock struct {
	p Pair
}

func New(initialMs, incrementMs int64) *Clock {
	return &Clock{p: Pair{
		WhiteMs:     initialMs,
		BlackMs:     initialMs,
		IncrementMs: incrementMs,
		Running:     None,
	}}
}

// Restore rebuilds a clock from a persisted pair.
func Restore(p Pair) *Clock { return &Clock{p: p} }

// Start begins decrementing the given side from now.
func (c *Clock) Start(side Color, now time.Time) {
	c.p.Running = side
	c.p.LastTick = now
}

// Pause charges elapsed time to the running side and stops both clocks.
func (c *Clock) Pause(now time.Time) Color {
	flagged := c.TickAt(now)
	c.p.Running = None
	return flagged
}

// Halt stops both clocks without charging elapsed time. Recovery paths
// use it so process downtime is never billed to the side that was
// running when the snapshot was taken.
func (c *Clock) Halt() {
	c.p.Running = None
}

// TickAt charges wall time elapsed since the last tick to the running
// side only, clamped at zero. It returns the side whose flag fell, or
// None. Zero remaining time on the running side is reported even when
// no time elapsed, so a late tick still observes an earlier flag fall.
func (c *Clock) TickAt(now time.Time) Color {
	if c.p.Running == None {
		return None
	}
	elapsed := now.Sub(c.p.LastTick).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	c.p.LastTick = now
	switch c.p.Running {
	case White:
		c.p.WhiteMs -= elapsed
		if c.p.WhiteMs <= 0 {
			c.p.WhiteMs = 0
			return White
		}
	case Black:
		c.p.BlackMs -= elapsed
		if c.p.BlackMs <= 0 {
			c.p.BlackMs = 0
			return Black
		}
	}
	return None
}

// TurnChange stops the mover's clock, credits its increment, and starts
// the opponent. The increment lands when the mover's clock stops, not
// when it next restarts. Callers tick before deciding the move was
// legal; the extra tick here only covers the switch itself.
func (c *Clock) TurnChange(next Color, now time.Time) Color {
	if flagged := c.TickAt(now); flagged != None {
		return flagged
	}
	prev := c.p.Running
	if prev != None && prev != next {
		switch prev {
		case White:
			c.p.WhiteMs += c.p.IncrementMs
		case Black:
			c.p.BlackMs += c.p.IncrementMs
		}
	}
	c.p.Running = next
	c.p.LastTick = now
	return None
}

// Snapshot ticks to now and returns a copy of the pair, so client-facing
// reads never show stale remaining time.
func (c *Clock) Snapshot(now time.Time) Pair {
	c.TickAt(now)
	return c.p
}

// Peek returns the pair without ticking. For persistence paths that
// already ticked in the same critical section.
func (c *Clock) Peek() Pair { return c.p }

// Running reports which side is currently decrementing.
func (c *Clock) Running() Color { return c.p.Running }
