package session

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBudget_ThresholdsFireOnce(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newBudget(30*time.Minute, clock.now)

	if got := b.check(); len(got) != 0 {
		t.Fatalf("warnings at start = %v", got)
	}

	// 26 minutes in: 4 minutes remain, warning fires.
	clock.advance(26 * time.Minute)
	got := b.check()
	if len(got) != 1 || got[0].Level != LevelWarning {
		t.Fatalf("warnings = %v, want one warning", got)
	}
	if got[0].RemainingSeconds != 240 {
		t.Errorf("remaining = %d, want 240", got[0].RemainingSeconds)
	}
	if again := b.check(); len(again) != 0 {
		t.Errorf("warning fired twice: %v", again)
	}

	// 29 minutes in: critical.
	clock.advance(3 * time.Minute)
	got = b.check()
	if len(got) != 1 || got[0].Level != LevelCritical {
		t.Fatalf("warnings = %v, want one critical", got)
	}

	// Past the limit: exceeded, and nothing repeats afterwards.
	clock.advance(2 * time.Minute)
	got = b.check()
	if len(got) != 1 || got[0].Level != LevelExceeded {
		t.Fatalf("warnings = %v, want one exceeded", got)
	}
	clock.advance(10 * time.Minute)
	if again := b.check(); len(again) != 0 {
		t.Errorf("warnings repeated after exceeded: %v", again)
	}
}

func TestBudget_JumpCrossesAllThresholds(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newBudget(30*time.Minute, clock.now)

	// One check far past the limit fires every level exactly once, in
	// tightening order.
	clock.advance(45 * time.Minute)
	got := b.check()
	if len(got) != 3 {
		t.Fatalf("warnings = %v, want 3", got)
	}
	want := []string{LevelWarning, LevelCritical, LevelExceeded}
	for i, w := range got {
		if w.Level != want[i] {
			t.Errorf("warning %d = %s, want %s", i, w.Level, want[i])
		}
	}
	if again := b.check(); len(again) != 0 {
		t.Errorf("thresholds refired: %v", again)
	}
}
