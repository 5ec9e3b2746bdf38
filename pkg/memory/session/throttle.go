package session

import "time"

const (
	// DefaultMaxRecalls bounds opportunistic injections per session.
	DefaultMaxRecalls = 3

	// DefaultCooldown is the minimum gap between two recalls.
	DefaultCooldown = 5 * time.Minute
)

// Throttle is the advisory per-session rate limiter over recall injections.
// It is not a security boundary; its only job is to keep recall from
// polluting the context, so any uncertainty resolves toward allowing less,
// and any bookkeeping failure upstream resolves toward skipping the recall.
type Throttle struct {
	MaxRecalls int
	Cooldown   time.Duration
}

func NewThrottle(maxRecalls int, cooldown time.Duration) Throttle {
	if maxRecalls <= 0 {
		maxRecalls = DefaultMaxRecalls
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return Throttle{MaxRecalls: maxRecalls, Cooldown: cooldown}
}

// AllowRecall reports whether the session may receive another opportunistic
// injection: the recall count must be under the cap and the cooldown since
// the last recall must have elapsed.
func (t Throttle) AllowRecall(l *Log, now time.Time) bool {
	if len(l.Recalled) >= t.MaxRecalls {
		return false
	}
	last := l.LastRecall()
	if !last.IsZero() && now.Sub(last) < t.Cooldown {
		return false
	}
	return true
}
