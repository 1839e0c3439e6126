package monitor

import (
	"testing"
	"time"
)

func TestTimerCompletesAtTarget(t *testing.T) {
	start := time.Unix(1700000000, 0)
	timer := NewTimer(10*time.Second, start)

	var got Event
	var terminal bool
	for i := 1; i <= 10; i++ {
		got, terminal = timer.Tick(start.Add(time.Duration(i) * time.Second))
		if terminal {
			break
		}
	}

	if !terminal {
		t.Fatal("timer never completed")
	}
	if got.Type != EventComplete {
		t.Fatalf("event type = %v, want EventComplete", got.Type)
	}
	if got.Report.DurationSeconds != 10 {
		t.Errorf("duration = %d, want 10 (capped at target)", got.Report.DurationSeconds)
	}
	if got.Report.Interruptions != 0 {
		t.Errorf("interruptions = %d, want 0", got.Report.Interruptions)
	}
}

func TestTimerDurationCappedAtTarget(t *testing.T) {
	start := time.Unix(1700000000, 0)
	timer := NewTimer(10*time.Second, start)

	// A single late tick overshooting the target must still report exactly
	// the target duration.
	ev, terminal := timer.Tick(start.Add(45 * time.Second))
	if !terminal {
		t.Fatal("expected terminal event")
	}
	if ev.Report.DurationSeconds != 10 {
		t.Errorf("duration = %d, want 10", ev.Report.DurationSeconds)
	}
}

func TestTimerFirstHideIsTerminal(t *testing.T) {
	start := time.Unix(1700000000, 0)
	timer := NewTimer(60*time.Second, start)

	if _, terminal := timer.Tick(start.Add(5 * time.Second)); terminal {
		t.Fatal("timer completed early")
	}

	ev, terminal := timer.Hide(start.Add(7 * time.Second))
	if !terminal {
		t.Fatal("first hide must be terminal")
	}
	if ev.Type != EventFail {
		t.Fatalf("event type = %v, want EventFail", ev.Type)
	}
	if ev.Reason != ReasonHidden {
		t.Errorf("reason = %q, want %q", ev.Reason, ReasonHidden)
	}
	if ev.Report.Interruptions != 1 {
		t.Errorf("interruptions = %d, want 1", ev.Report.Interruptions)
	}
	if ev.Report.DurationSeconds != 7 {
		t.Errorf("duration = %d, want 7", ev.Report.DurationSeconds)
	}
}

func TestTimerInertAfterTerminalEvent(t *testing.T) {
	start := time.Unix(1700000000, 0)
	timer := NewTimer(5*time.Second, start)

	if _, terminal := timer.Tick(start.Add(5 * time.Second)); !terminal {
		t.Fatal("expected completion")
	}

	if _, terminal := timer.Tick(start.Add(10 * time.Second)); terminal {
		t.Error("tick after completion must not emit another event")
	}
	if _, terminal := timer.Hide(start.Add(11 * time.Second)); terminal {
		t.Error("hide after completion must not emit another event")
	}
}

func TestTimerIgnoresBackwardsClock(t *testing.T) {
	start := time.Unix(1700000000, 0)
	timer := NewTimer(60*time.Second, start)

	timer.Tick(start.Add(10 * time.Second))
	timer.Tick(start.Add(5 * time.Second)) // clock skew

	if got := timer.DurationSeconds(); got != 10 {
		t.Errorf("duration = %d, want 10 (monotonic)", got)
	}
}
