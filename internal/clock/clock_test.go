package clock

import (
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTickChargesRunningSideOnly(t *testing.T) {
	c := New(300000, 0)
	c.Start(White, base)

	if flagged := c.TickAt(base.Add(1500 * time.Millisecond)); flagged != None {
		t.Fatalf("unexpected flag fall: %v", flagged)
	}
	p := c.Peek()
	if p.WhiteMs != 298500 {
		t.Fatalf("white remaining = %d, want 298500", p.WhiteMs)
	}
	if p.BlackMs != 300000 {
		t.Fatalf("black remaining = %d, want untouched 300000", p.BlackMs)
	}
}

func TestTickClampsAtZeroAndFlags(t *testing.T) {
	c := New(1000, 0)
	c.Start(Black, base)

	flagged := c.TickAt(base.Add(5 * time.Second))
	if flagged != Black {
		t.Fatalf("flagged = %v, want black", flagged)
	}
	if p := c.Peek(); p.BlackMs != 0 {
		t.Fatalf("black remaining = %d, want clamped 0", p.BlackMs)
	}
	// A later tick with no elapsed time must still report the fallen flag.
	if flagged := c.TickAt(base.Add(5 * time.Second)); flagged != Black {
		t.Fatalf("repeated tick lost the flag: %v", flagged)
	}
}

func TestTurnChangeAddsIncrementOnStop(t *testing.T) {
	c := New(60000, 2000)
	c.Start(White, base)

	now := base.Add(3 * time.Second)
	if flagged := c.TurnChange(Black, now); flagged != None {
		t.Fatalf("unexpected flag fall: %v", flagged)
	}
	p := c.Peek()
	// 60000 - 3000 elapsed + 2000 increment
	if p.WhiteMs != 59000 {
		t.Fatalf("white remaining = %d, want 59000", p.WhiteMs)
	}
	if p.Running != Black {
		t.Fatalf("running = %v, want black", p.Running)
	}

	// Increment is credited when the clock stops, not when it restarts:
	// black's side gains nothing from the switch.
	if p.BlackMs != 60000 {
		t.Fatalf("black remaining = %d, want 60000", p.BlackMs)
	}
}

func TestPauseStopsBothClocks(t *testing.T) {
	c := New(30000, 0)
	c.Start(White, base)
	c.Pause(base.Add(2 * time.Second))

	p := c.Peek()
	if p.Running != None {
		t.Fatalf("running = %v, want none", p.Running)
	}
	if p.WhiteMs != 28000 {
		t.Fatalf("white remaining = %d, want 28000", p.WhiteMs)
	}

	// Time passing while paused charges nobody.
	c.TickAt(base.Add(30 * time.Second))
	p = c.Peek()
	if p.WhiteMs != 28000 || p.BlackMs != 30000 {
		t.Fatalf("paused clock moved: white=%d black=%d", p.WhiteMs, p.BlackMs)
	}

	// Resume restarts the same side from the resume instant.
	c.Start(White, base.Add(40*time.Second))
	c.TickAt(base.Add(41 * time.Second))
	if p := c.Peek(); p.WhiteMs != 27000 {
		t.Fatalf("white remaining after resume = %d, want 27000", p.WhiteMs)
	}
}

func TestHaltStopsWithoutCharging(t *testing.T) {
	c := New(60000, 0)
	c.Start(White, base)

	// Halt long after the last tick: nothing is charged, unlike Pause.
	c.Halt()
	p := c.Peek()
	if p.Running != None {
		t.Fatalf("running = %v, want none", p.Running)
	}
	if p.WhiteMs != 60000 || p.BlackMs != 60000 {
		t.Fatalf("halt charged time: white=%d black=%d", p.WhiteMs, p.BlackMs)
	}

	// Restarting later counts only from the restart instant.
	c.Start(White, base.Add(time.Hour))
	c.TickAt(base.Add(time.Hour + 2*time.Second))
	if p := c.Peek(); p.WhiteMs != 58000 {
		t.Fatalf("white remaining after restart = %d, want 58000", p.WhiteMs)
	}
}

func TestSnapshotTicksBeforeRead(t *testing.T) {
	c := New(10000, 0)
	c.Start(Black, base)
	p := c.Snapshot(base.Add(4 * time.Second))
	if p.BlackMs != 6000 {
		t.Fatalf("snapshot black remaining = %d, want 6000", p.BlackMs)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	c := New(15000, 1000)
	c.Start(White, base)
	c.TickAt(base.Add(time.Second))

	r := Restore(c.Peek())
	if r.Peek() != c.Peek() {
		t.Fatalf("restored pair mismatch: %+v vs %+v", r.Peek(), c.Peek())
	}
}

func TestOpponent(t *testing.T) {
	if White.Opponent() != Black || Black.Opponent() != White || None.Opponent() != None {
		t.Fatalf("opponent mapping broken")
	}
}
