package phase

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Phase is the system-wide daily operating mode. Every channel shares the
// same phase at any moment.
type Phase int

const (
	Standby Phase = iota
	Active
	Free
)

func (p Phase) String() string {
	switch p {
	case Standby:
		return "standby"
	case Active:
		return "active"
	case Free:
		return "free"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ErrTaskNotAllowed is returned when a task command arrives outside the
// Active phase.
var ErrTaskNotAllowed = errors.New("task commands are only accepted during the active phase")

// ErrNoTask is returned by ChangeTask when there is no task to replace.
var ErrNoTask = errors.New("no committed task to change")

// TaskOverride is the single current work focus committed by an operator.
type TaskOverride struct {
	Channel     string
	Description string
	CommittedAt time.Time
}

// Snapshot is a consistent read of phase plus task, taken under one lock
// so readers never observe a task without the phase that legitimizes it.
type Snapshot struct {
	Phase Phase
	Task  *TaskOverride
}

// Listener is notified after each committed phase transition.
type Listener func(from, to Phase)

// Machine owns the phase and the task override. All mutation funnels
// through transition(), which is what keeps the Active→Free task clear
// from racing a concurrent CommitTask.
type Machine struct {
	mu        sync.Mutex
	phase     Phase
	task      *TaskOverride
	listeners []Listener
	now       func() time.Time
}

// Option adjusts a Machine at construction.
type Option func(*Machine)

// WithClock injects the time source, test hook.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a machine starting in the given phase.
func New(initial Phase, opts ...Option) *Machine {
	m := &Machine{phase: initial, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ForClock returns the phase the daily schedule prescribes at t, given
// the three boundary times as minutes past midnight. Standby wraps around
// midnight, so activeAt <= t < freeAt is Active, freeAt <= t < standbyAt
// (or end of day when standbyAt is 00:00) is Free, everything else Standby.
func ForClock(t time.Time, activeAt, freeAt, standbyAt int) Phase {
	minute := t.Hour()*60 + t.Minute()
	if standbyAt == 0 {
		standbyAt = 24 * 60
	}
	switch {
	case minute >= activeAt && minute < freeAt:
		return Active
	case minute >= freeAt && minute < standbyAt:
		return Free
	default:
		return Standby
	}
}

// Minutes converts an HH:MM pair to minutes past midnight.
func Minutes(hour, minute int) int {
	return hour*60 + minute
}

// Snapshot returns the current phase and task. The returned task pointer
// is a copy; callers cannot mutate machine state through it.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{Phase: m.phase}
	if m.task != nil {
		task := *m.task
		snap.Task = &task
	}
	return snap
}

// Transition moves the machine to the target phase. Moving Active→Free
// clears the task override. A no-op transition (same phase) is skipped
// without notifying listeners.
func (m *Machine) Transition(to Phase) {
	m.mu.Lock()
	from := m.phase
	if from == to {
		m.mu.Unlock()
		return
	}
	m.phase = to
	if from == Active && to == Free && m.task != nil {
		log.Printf("[phase] clearing task for %s on %s -> %s", m.task.Channel, from, to)
		m.task = nil
	}
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	log.Printf("[phase] transition %s -> %s", from, to)
	for _, fn := range listeners {
		fn(from, to)
	}
}

// OnTransition registers a listener called after every phase change.
// Listeners run outside the machine lock and may call Snapshot.
func (m *Machine) OnTransition(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// CommitTask sets the task override. Only valid in Active; committing
// over an existing task replaces it atomically.
func (m *Machine) CommitTask(channel, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Active {
		return ErrTaskNotAllowed
	}
	m.task = &TaskOverride{
		Channel:     channel,
		Description: description,
		CommittedAt: m.now(),
	}
	log.Printf("[phase] task committed for %s", channel)
	return nil
}

// ChangeTask replaces the committed task. Only valid in Active and only
// when a task exists.
func (m *Machine) ChangeTask(channel, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Active {
		return ErrTaskNotAllowed
	}
	if m.task == nil {
		return ErrNoTask
	}
	m.task = &TaskOverride{
		Channel:     channel,
		Description: description,
		CommittedAt: m.now(),
	}
	log.Printf("[phase] task changed for %s", channel)
	return nil
}
