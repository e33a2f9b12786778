package phase

import (
	"errors"
	"testing"
	"time"
)

func TestForClock(t *testing.T) {
	activeAt := Minutes(7, 0)
	freeAt := Minutes(20, 0)
	standbyAt := Minutes(0, 0)

	tests := []struct {
		clock string
		want  Phase
	}{
		{"03:00", Standby},
		{"06:59", Standby},
		{"07:00", Active},
		{"12:30", Active},
		{"19:59", Active},
		{"20:00", Free},
		{"23:59", Free},
		{"00:00", Standby},
	}
	for _, tt := range tests {
		clock, err := time.Parse("15:04", tt.clock)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.clock, err)
		}
		if got := ForClock(clock, activeAt, freeAt, standbyAt); got != tt.want {
			t.Fatalf("ForClock(%s) = %s, want %s", tt.clock, got, tt.want)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	committed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m := New(Standby, WithClock(func() time.Time { return committed }))

	// Standby rejects task commands.
	if err := m.CommitTask("development", "ship the importer"); !errors.Is(err, ErrTaskNotAllowed) {
		t.Fatalf("commit in standby = %v, want ErrTaskNotAllowed", err)
	}

	m.Transition(Active)
	if err := m.CommitTask("development", "ship the importer"); err != nil {
		t.Fatalf("commit in active: %v", err)
	}

	snap := m.Snapshot()
	if snap.Phase != Active || snap.Task == nil {
		t.Fatalf("snapshot = %+v, want active with task", snap)
	}
	if snap.Task.Channel != "development" || !snap.Task.CommittedAt.Equal(committed) {
		t.Fatalf("task = %+v", snap.Task)
	}

	if err := m.ChangeTask("creation", "draft the landing page"); err != nil {
		t.Fatalf("change in active: %v", err)
	}
	if task := m.Snapshot().Task; task.Channel != "creation" {
		t.Fatalf("task channel after change = %q, want creation", task.Channel)
	}

	// Active -> Free clears the override.
	m.Transition(Free)
	if task := m.Snapshot().Task; task != nil {
		t.Fatalf("task survived active->free: %+v", task)
	}

	if err := m.ChangeTask("development", "anything"); !errors.Is(err, ErrTaskNotAllowed) {
		t.Fatalf("change in free = %v, want ErrTaskNotAllowed", err)
	}
}

func TestChangeTaskRequiresExistingTask(t *testing.T) {
	m := New(Active)
	if err := m.ChangeTask("development", "x"); !errors.Is(err, ErrNoTask) {
		t.Fatalf("change without task = %v, want ErrNoTask", err)
	}
}

func TestSnapshotTaskIsCopy(t *testing.T) {
	m := New(Active)
	if err := m.CommitTask("development", "original"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap := m.Snapshot()
	snap.Task.Description = "mutated"

	if got := m.Snapshot().Task.Description; got != "original" {
		t.Fatalf("machine task mutated through snapshot: %q", got)
	}
}

func TestTransitionListeners(t *testing.T) {
	m := New(Standby)

	type hop struct{ from, to Phase }
	var hops []hop
	m.OnTransition(func(from, to Phase) { hops = append(hops, hop{from, to}) })

	m.Transition(Active)
	m.Transition(Active) // no-op, no notification
	m.Transition(Free)
	m.Transition(Standby)

	want := []hop{{Standby, Active}, {Active, Free}, {Free, Standby}}
	if len(hops) != len(want) {
		t.Fatalf("got %d notifications, want %d: %v", len(hops), len(want), hops)
	}
	for i := range want {
		if hops[i] != want[i] {
			t.Fatalf("hop %d = %+v, want %+v", i, hops[i], want[i])
		}
	}
}
