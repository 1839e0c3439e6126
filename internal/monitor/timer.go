// Package monitor implements the client-observed elapsed-time monitor: a
// cooperative countdown that measures foreground engagement against a target
// duration and reports interruptions.
package monitor

import (
	"time"

	"github.com/unplugd/unplug/internal/domain"
)

// ReasonHidden is the failure reason emitted when the engagement context is
// hidden or minimized.
const ReasonHidden = "context hidden/minimized"

// EventType classifies a terminal timer event.
type EventType int

const (
	EventNone EventType = iota
	EventComplete
	EventFail
)

// Event is a terminal outcome of the countdown together with the engagement
// report accumulated so far. The report is advisory input to the lifecycle
// manager, never authoritative.
type Event struct {
	Type   EventType
	Reason string
	Report domain.EngagementReport
}

// Timer is a single-threaded cooperative countdown keyed to wall-clock
// observations supplied by the caller. It owns no goroutines; the caller
// drives it with Tick and Hide. The first interruption is terminal: one
// Hide fails the countdown immediately.
type Timer struct {
	target        time.Duration
	startedAt     time.Time
	lastObserved  time.Time
	active        time.Duration
	interruptions int
	done          bool
}

// NewTimer creates a countdown against the target duration, observed from
// the given start instant.
func NewTimer(target time.Duration, now time.Time) *Timer {
	return &Timer{
		target:       target,
		startedAt:    now,
		lastObserved: now,
	}
}

// Tick advances the accumulated engagement to now. When the target is
// reached it returns a complete event with duration_seconds equal to the
// target, and the timer becomes inert.
func (t *Timer) Tick(now time.Time) (Event, bool) {
	if t.done {
		return Event{}, false
	}

	t.advance(now)

	if t.active >= t.target {
		t.active = t.target
		t.done = true
		return Event{Type: EventComplete, Report: t.report(now)}, true
	}
	return Event{}, false
}

// Hide records loss of foreground engagement. The first interruption is
// terminal: the timer fails immediately rather than tolerating it.
func (t *Timer) Hide(now time.Time) (Event, bool) {
	if t.done {
		return Event{}, false
	}

	t.advance(now)
	t.interruptions++
	t.done = true
	return Event{Type: EventFail, Reason: ReasonHidden, Report: t.report(now)}, true
}

// Done reports whether the countdown has reached a terminal event.
func (t *Timer) Done() bool {
	return t.done
}

// DurationSeconds returns the accumulated foreground engagement in whole
// seconds. Monotonically increasing, capped at the target.
func (t *Timer) DurationSeconds() int {
	return int(t.active / time.Second)
}

// Interruptions returns the number of detected engagement losses.
func (t *Timer) Interruptions() int {
	return t.interruptions
}

func (t *Timer) advance(now time.Time) {
	delta := now.Sub(t.lastObserved)
	if delta < 0 {
		// Clock observations must never move engagement backwards.
		delta = 0
	}
	t.active += delta
	if t.active > t.target {
		t.active = t.target
	}
	t.lastObserved = now
}

func (t *Timer) report(now time.Time) domain.EngagementReport {
	return domain.EngagementReport{
		DurationSeconds: t.DurationSeconds(),
		Interruptions:   t.interruptions,
		StartTime:       t.startedAt,
		EndTime:         now,
	}
}
