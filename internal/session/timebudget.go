package session

import (
	"fmt"
	"time"
)

// Warning levels in tightening order.
const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
	LevelExceeded = "exceeded"
)

// Warning is one crossed time-budget threshold.
type Warning struct {
	Level            string
	RemainingSeconds int
	Message          string
}

// thresholds maps each level to the remaining time at or under which it
// fires. Checked loosest first so a large jump fires every crossed level.
var thresholds = []struct {
	level     string
	remaining time.Duration
}{
	{LevelWarning, 5 * time.Minute},
	{LevelCritical, 2 * time.Minute},
	{LevelExceeded, 0},
}

// budget tracks elapsed wall-clock time against the interview's duration and
// remembers which warning levels already fired.
type budget struct {
	start time.Time
	limit time.Duration
	fired map[string]bool
	now   func() time.Time
}

func newBudget(limit time.Duration, now func() time.Time) *budget {
	return &budget{start: now(), limit: limit, fired: make(map[string]bool), now: now}
}

// check returns every threshold newly crossed since the last call. Each level
// is returned at most once over the budget's lifetime.
func (b *budget) check() []Warning {
	remaining := b.limit - b.now().Sub(b.start)
	remainingSec := int(remaining / time.Second)

	var out []Warning
	for _, th := range thresholds {
		if remaining > th.remaining || b.fired[th.level] {
			continue
		}
		b.fired[th.level] = true
		out = append(out, Warning{
			Level:            th.level,
			RemainingSeconds: remainingSec,
			Message:          warningMessage(th.level, remainingSec),
		})
	}
	return out
}

func warningMessage(level string, remainingSec int) string {
	switch level {
	case LevelWarning:
		return fmt.Sprintf("About %d minutes remain in this interview.", (remainingSec+59)/60)
	case LevelCritical:
		return fmt.Sprintf("Only about %d seconds remain, please begin wrapping up.", remainingSec)
	default:
		return "The scheduled interview time has been exceeded."
	}
}
