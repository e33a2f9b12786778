package scheduler

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/triad/internal/bus"
	"github.com/stellarlinkco/triad/internal/persona"
	"github.com/stellarlinkco/triad/internal/phase"
	"github.com/stellarlinkco/triad/internal/queue"
)

// defaultTaskChannelBias is the probability an autonomous turn lands in
// the committed task's channel instead of another eligible one.
const defaultTaskChannelBias = 0.9

// Scheduler periodically injects autonomous conversation starters so the
// personas keep talking without human traffic.
type Scheduler struct {
	queue    *queue.Queue
	machine  *phase.Machine
	catalog  *persona.Catalog
	channels []string
	social   string

	tick        time.Duration
	probability float64
	taskBias    float64
	rng         *rand.Rand
	now         func() time.Time

	mu       sync.Mutex
	lastTick time.Time
}

// Options configures the scheduler loop.
type Options struct {
	Channels      []string // all logical channels
	SocialChannel string   // the free-phase channel, excluded in active
	Tick          time.Duration
	Probability   float64
	TaskBias      float64          // share of active turns pulled toward the task channel
	Rand          *rand.Rand       // injectable for deterministic tests
	Now           func() time.Time // injectable clock
}

// New wires a scheduler. Nil Rand seeds from wall-clock time.
func New(q *queue.Queue, machine *phase.Machine, catalog *persona.Catalog, opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = 300 * time.Second
	}
	if opts.Probability <= 0 {
		opts.Probability = 0.33
	}
	if opts.TaskBias <= 0 || opts.TaskBias > 1 {
		opts.TaskBias = defaultTaskChannelBias
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SocialChannel == "" {
		opts.SocialChannel = "lounge"
	}
	return &Scheduler{
		queue:       q,
		machine:     machine,
		catalog:     catalog,
		channels:    opts.Channels,
		social:      opts.SocialChannel,
		tick:        opts.Tick,
		probability: opts.Probability,
		taskBias:    opts.TaskBias,
		rng:         opts.Rand,
		now:         opts.Now,
	}
}

// Run ticks until ctx is done. Each tick body is isolated: a panic or
// error spoils only that tick.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("[scheduler] started, tick %s, probability %.2f", s.tick, s.probability)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[scheduler] stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			s.safeTick()
		}
	}
}

func (s *Scheduler) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] tick panicked: %v", r)
		}
	}()
	if err := s.Tick(); err != nil {
		log.Printf("[scheduler] tick: %v", err)
	}
}

// LastTick returns when the loop last completed a tick, for the probe.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// Tick runs one scheduling decision. Exported so tests drive it directly
// without the ticker.
func (s *Scheduler) Tick() error {
	now := s.now()
	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	snap := s.machine.Snapshot()
	if snap.Phase == phase.Standby {
		return nil
	}
	if s.rng.Float64() >= s.probability {
		return nil
	}

	channel := s.pickChannel(snap)
	if channel == "" {
		return nil
	}

	chosen := s.catalog.PickWeighted(s.rng, channel, s.catalog.LastSpeaker(channel))
	content := s.composePrompt(snap, channel)

	s.queue.Enqueue(bus.InboundMessage{
		ID:          uuid.NewString(),
		Channel:     channel,
		AuthorID:    chosen.ID,
		AuthorIsBot: true,
		Content:     content,
		Mentions:    []string{chosen.ID},
		ReceivedAt:  now,
	}, queue.PriorityAutonomous)

	s.catalog.MarkSpoke(channel, chosen.ID, now)
	log.Printf("[scheduler] queued autonomous turn by %s in %s", chosen.ID, channel)
	return nil
}

// pickChannel applies the phase channel rules, with the committed task's
// channel drawing the lion's share of active-phase turns.
func (s *Scheduler) pickChannel(snap phase.Snapshot) string {
	eligible := s.eligibleChannels(snap.Phase)
	if len(eligible) == 0 {
		return ""
	}

	if snap.Phase == phase.Active && snap.Task != nil && containsChannel(eligible, snap.Task.Channel) {
		if s.rng.Float64() < s.taskBias {
			return snap.Task.Channel
		}
		others := make([]string, 0, len(eligible)-1)
		for _, ch := range eligible {
			if ch != snap.Task.Channel {
				others = append(others, ch)
			}
		}
		if len(others) == 0 {
			return snap.Task.Channel
		}
		return others[s.rng.Intn(len(others))]
	}

	return eligible[s.rng.Intn(len(eligible))]
}

func (s *Scheduler) eligibleChannels(p phase.Phase) []string {
	switch p {
	case phase.Active:
		out := make([]string, 0, len(s.channels))
		for _, ch := range s.channels {
			if ch != s.social {
				out = append(out, ch)
			}
		}
		return out
	case phase.Free:
		if containsChannel(s.channels, s.social) {
			return []string{s.social}
		}
		return nil
	default:
		return nil
	}
}

func (s *Scheduler) composePrompt(snap phase.Snapshot, channel string) string {
	switch {
	case snap.Task != nil && snap.Task.Channel == channel:
		tpl := workTemplates[s.rng.Intn(len(workTemplates))]
		return fmt.Sprintf(tpl, snap.Task.Description)
	case snap.Phase == phase.Active:
		return meetingTemplates[s.rng.Intn(len(meetingTemplates))]
	default:
		return casualTemplates[s.rng.Intn(len(casualTemplates))]
	}
}

func containsChannel(channels []string, target string) bool {
	for _, ch := range channels {
		if ch == target {
			return true
		}
	}
	return false
}
