package session

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// Countdown tracks whole seconds left until a fixed end time. Remaining
// never increases between ticks, never goes negative, and Tick reports
// expiry exactly once.
type Countdown struct {
	end       time.Time
	remaining int
	fired     bool
}

// NewCountdown starts a countdown toward end as observed at now.
func NewCountdown(end, now time.Time) *Countdown {
	return &Countdown{end: end, remaining: secondsUntil(end, now)}
}

// Due reports whether the end time had already been reached at creation
// or at the last tick.
func (c *Countdown) Due() bool { return c.remaining == 0 }

func (c *Countdown) Remaining() int { return c.remaining }

func (c *Countdown) End() time.Time { return c.end }

// Tick advances the countdown to now. fired is true exactly once, on the
// first tick at or after the end time.
func (c *Countdown) Tick(now time.Time) (remaining int, fired bool) {
	if c.fired {
		return 0, false
	}
	if !now.Before(c.end) {
		c.remaining = 0
		c.fired = true
		return 0, true
	}

	r := secondsUntil(c.end, now)
	if r >= c.remaining {
		r = c.remaining - 1
	}
	if r < 1 {
		r = 1
	}
	c.remaining = r
	return r, false
}

// Stop prevents any later tick from firing.
func (c *Countdown) Stop() { c.fired = true }

func secondsUntil(end, now time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// endTime returns when an attempt started at startedAt must be submitted:
// the duration limit capped by the hard deadline. ok is false when the
// assessment has neither.
func endTime(durationMinutes int, deadline *time.Time, startedAt time.Time) (end time.Time, ok bool) {
	if durationMinutes > 0 {
		end = startedAt.Add(time.Duration(durationMinutes) * time.Minute)
		ok = true
	}
	if deadline != nil && (!ok || deadline.Before(end)) {
		end = *deadline
		ok = true
	}
	return end, ok
}

// RemainingAt returns the whole seconds an attempt of a started at
// startedAt has left at now, or Unlimited.
func RemainingAt(a *model.Assessment, startedAt, now time.Time) int {
	end, ok := endTime(a.DurationMinutes, a.Deadline, startedAt)
	if !ok {
		return Unlimited
	}
	return secondsUntil(end, now)
}
