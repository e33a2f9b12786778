package gateway

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stellarlinkco/triad/internal/bus"
	"github.com/stellarlinkco/triad/internal/channel"
	"github.com/stellarlinkco/triad/internal/config"
	"github.com/stellarlinkco/triad/internal/llm"
	"github.com/stellarlinkco/triad/internal/memory"
	"github.com/stellarlinkco/triad/internal/persona"
	"github.com/stellarlinkco/triad/internal/phase"
	"github.com/stellarlinkco/triad/internal/queue"
	"github.com/stellarlinkco/triad/internal/scheduler"
	"github.com/stellarlinkco/triad/internal/supervisor"
)

// Options carries test seams: an injectable model client, signal channel,
// clock and scheduler randomness.
type Options struct {
	Client        llm.Client
	SignalChan    chan os.Signal
	Now           func() time.Time
	SchedulerRand *rand.Rand
}

// Gateway assembles and runs the whole service: transports feed the bus,
// the bus feeds the priority queue, supervisor workers drain it, and the
// scheduler keeps the personas talking between human messages.
type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	queue      *queue.Queue
	mem        *memory.Engine
	client     llm.Client
	breakerFn  func() string
	catalog    *persona.Catalog
	machine    *phase.Machine
	pipeline   *supervisor.Pipeline
	scheduler  *scheduler.Scheduler
	channels   *channel.Manager
	cron       *cron.Cron
	now        func() time.Time
	signalChan chan os.Signal
}

// New assembles a Gateway from config with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions assembles a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		now:        opts.Now,
		signalChan: opts.SignalChan,
	}
	if g.now == nil {
		g.now = time.Now
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	dbPath := cfg.Memory.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "triad.db")
	}
	engine, err := memory.NewEngine(dbPath, cfg.Memory.ShortTermLimit)
	if err != nil {
		return nil, fmt.Errorf("create memory engine: %w", err)
	}
	g.mem = engine

	g.client = opts.Client
	g.breakerFn = func() string { return "unknown" }
	if g.client == nil {
		gw := llm.NewGateway(llm.NewHTTPClient(cfg.Provider), cfg.Limits)
		g.client = gw
		g.breakerFn = func() string { return gw.BreakerState().String() }
	}

	catalog, err := persona.LoadCatalog(filepath.Join(cfg.Workspace, "personas"))
	if err != nil {
		_ = g.mem.Close()
		return nil, fmt.Errorf("load persona catalog: %w", err)
	}
	g.catalog = catalog
	g.catalog.SetAntiRepeatPenalty(cfg.Scheduler.AntiRepeatPenalty)

	boundaries, err := parseBoundaries(cfg.Workflow)
	if err != nil {
		_ = g.mem.Close()
		return nil, err
	}
	g.machine = phase.New(phase.ForClock(g.now(), boundaries.active, boundaries.free, boundaries.standby))
	g.machine.OnTransition(g.announceTransition)

	g.queue = queue.New(cfg.Pipeline.DedupWindow, cfg.Pipeline.QueueWarnDepth)

	g.pipeline = supervisor.NewPipeline(g.mem, g.client, g.catalog, g.machine, g.bus, supervisor.Options{
		Timeout:             time.Duration(cfg.Pipeline.TimeoutMs) * time.Millisecond,
		RetrievalTopK:       cfg.Memory.RetrievalTopK,
		SimilarityThreshold: cfg.Memory.SimilarityThreshold,
		ImportanceThreshold: cfg.Memory.ImportanceThreshold,
		MaxWorkers:          int64(cfg.Pipeline.MaxConcurrent),
	})

	g.scheduler = scheduler.New(g.queue, g.machine, g.catalog, scheduler.Options{
		Channels:      cfg.Workflow.ChannelNames(),
		SocialChannel: cfg.Workflow.SocialChannel,
		Tick:          time.Duration(cfg.Scheduler.ResolveTickSeconds()) * time.Second,
		Probability:   cfg.Scheduler.ResolveSpeechProbability(),
		TaskBias:      cfg.Scheduler.TaskChannelBias,
		Rand:          opts.SchedulerRand,
		Now:           g.now,
	})

	chMgr, err := channel.NewManager(cfg.Channels, g.bus)
	if err != nil {
		_ = g.mem.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr
	if console := chMgr.Console(); console != nil {
		console.SetHealth(g.healthSnapshot)
		console.SetMetrics(func() any { return g.pipeline.Metrics() })
	}

	g.cron = cron.New()
	if err := g.registerCronJobs(boundaries); err != nil {
		_ = g.mem.Close()
		return nil, err
	}

	return g, nil
}

type phaseBoundaries struct {
	active, free, standby int
	activeExpr            string
	freeExpr              string
	standbyExpr           string
}

func parseBoundaries(cfg config.WorkflowConfig) (phaseBoundaries, error) {
	var b phaseBoundaries
	for _, entry := range []struct {
		value   string
		minutes *int
		expr    *string
	}{
		{cfg.ActiveAt, &b.active, &b.activeExpr},
		{cfg.FreeAt, &b.free, &b.freeExpr},
		{cfg.StandbyAt, &b.standby, &b.standbyExpr},
	} {
		hour, minute, err := config.ParseClock(entry.value)
		if err != nil {
			return b, fmt.Errorf("workflow boundary: %w", err)
		}
		*entry.minutes = phase.Minutes(hour, minute)
		*entry.expr = fmt.Sprintf("%d %d * * *", minute, hour)
	}
	return b, nil
}

func (g *Gateway) registerCronJobs(b phaseBoundaries) error {
	jobs := []struct {
		expr string
		fn   func()
	}{
		{b.activeExpr, func() { g.machine.Transition(phase.Active) }},
		{b.freeExpr, func() { g.machine.Transition(phase.Free) }},
		{b.standbyExpr, func() { g.machine.Transition(phase.Standby) }},
	}
	for _, job := range jobs {
		if _, err := g.cron.AddFunc(job.expr, job.fn); err != nil {
			return fmt.Errorf("schedule phase boundary %q: %w", job.expr, err)
		}
	}

	consolidateAt := g.cfg.Memory.ConsolidateAt
	if consolidateAt == "" {
		consolidateAt = "06:00"
	}
	hour, minute, err := config.ParseClock(consolidateAt)
	if err != nil {
		return fmt.Errorf("consolidation schedule: %w", err)
	}
	if _, err := g.cron.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), g.runConsolidation); err != nil {
		return fmt.Errorf("schedule consolidation: %w", err)
	}

	// Morning report five minutes before the workday opens, after the
	// consolidation run has landed.
	reportMinutes := (b.active - 5 + 24*60) % (24 * 60)
	if _, err := g.cron.AddFunc(fmt.Sprintf("%d %d * * *", reportMinutes%60, reportMinutes/60), g.runDailyReport); err != nil {
		return fmt.Errorf("schedule daily report: %w", err)
	}

	// Retention sweep half an hour after consolidation.
	sweepMinute := (minute + 30) % 60
	sweepHour := hour
	if minute+30 >= 60 {
		sweepHour = (hour + 1) % 24
	}
	if _, err := g.cron.AddFunc(fmt.Sprintf("%d %d * * *", sweepMinute, sweepHour), g.runSweep); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	return nil
}

func (g *Gateway) runConsolidation() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	date := memory.DateKey(g.now())
	if err := g.mem.Consolidate(ctx, date, g.client); err != nil {
		log.Printf("[gateway] consolidation (%s): %v", date, err)
	}
}

// runDailyReport posts the morning digest of yesterday's long-term
// activity to the announce channel before the workday starts. Both
// yesterday's date key (immediate captures) and today's (consolidation
// output) feed the report.
func (g *Gateway) runDailyReport() {
	room := g.cfg.Workflow.AnnounceChannel
	if room == "" {
		return
	}

	now := g.now()
	channels := make([]string, 0, len(g.cfg.Workflow.ChannelNames()))
	for _, ch := range g.cfg.Workflow.ChannelNames() {
		if ch != g.cfg.Workflow.SocialChannel {
			channels = append(channels, ch)
		}
	}

	report, err := g.mem.BuildDailyReport(channels, memory.DateKey(now.AddDate(0, 0, -1)), memory.DateKey(now))
	if err != nil {
		log.Printf("[gateway] daily report: %v", err)
		return
	}

	voice := g.catalog.DefaultFor(room)
	select {
	case g.bus.Outbound <- bus.OutboundMessage{Channel: room, Persona: voice.ID, Content: report.RenderText()}:
	default:
		log.Printf("[gateway] outbound full, dropped daily report")
	}
}

func (g *Gateway) runSweep() {
	if _, err := g.mem.SweepExpired(g.cfg.Memory.RetentionDays); err != nil {
		log.Printf("[gateway] retention sweep: %v", err)
	}
}

// announceTransition posts a templated notice to the announce channel on
// every phase boundary.
func (g *Gateway) announceTransition(from, to phase.Phase) {
	room := g.cfg.Workflow.AnnounceChannel
	if room == "" {
		return
	}

	var text string
	switch to {
	case phase.Active:
		text = "Good morning. The workday starts now; the team is active across all rooms."
	case phase.Free:
		text = "That's a wrap for today's work. Winding down in the lounge."
	case phase.Standby:
		text = "Going quiet for the night. See you at the morning bell."
	default:
		return
	}

	voice := g.catalog.DefaultFor(room)
	select {
	case g.bus.Outbound <- bus.OutboundMessage{Channel: room, Persona: voice.ID, Content: text}:
	default:
		log.Printf("[gateway] outbound full, dropped %s announcement", to)
	}
}

// Run starts everything and blocks until a shutdown signal arrives.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	g.cron.Start()
	go g.ingestLoop(ctx)
	go g.consumeLoop(ctx)
	go g.scheduler.Run(ctx)

	log.Printf("[gateway] running in %s phase", g.machine.Snapshot().Phase)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// ingestLoop classifies bus inbound traffic and feeds the priority queue.
// Autonomous turns bypass the bus: the scheduler enqueues them directly.
func (g *Gateway) ingestLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			priority := queue.PriorityNormal
			for _, mention := range msg.Mentions {
				if g.catalog.Has(mention) {
					priority = queue.PriorityMention
					break
				}
			}
			log.Printf("[gateway] inbound %s from %s/%s (%s)", msg.ID, msg.Channel, msg.AuthorID, priority)
			g.queue.Enqueue(msg, priority)
		case <-ctx.Done():
			return
		}
	}
}

// consumeLoop drains the queue into supervisor workers. Handle enforces
// the worker cap, so bursts queue up inside the semaphore rather than
// spawning unbounded model calls.
func (g *Gateway) consumeLoop(ctx context.Context) {
	for {
		item, err := g.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		go g.pipeline.Handle(ctx, item.Message)
	}
}

// healthSnapshot serves /healthz.
func (g *Gateway) healthSnapshot() any {
	snap := g.machine.Snapshot()
	enqueued, duplicates := g.queue.Stats()

	body := map[string]any{
		"status":     "ok",
		"phase":      snap.Phase.String(),
		"queueDepth": g.queue.Depth(),
		"enqueued":   enqueued,
		"duplicates": duplicates,
		"breaker":    g.breakerFn(),
		"lastTick":   g.scheduler.LastTick(),
	}
	if snap.Task != nil {
		body["task"] = map[string]string{
			"channel":     snap.Task.Channel,
			"description": snap.Task.Description,
		}
	}
	if stats, err := g.mem.Stats(); err == nil {
		body["memory"] = map[string]any{
			"shortTerm": stats.ShortTermCount,
			"longTerm":  stats.LongTermCount,
			"channels":  stats.ChannelCount,
			"lastRun":   stats.LastRunDate,
		}
	}
	return body
}

func (g *Gateway) Shutdown() error {
	stopped := g.cron.Stop()
	<-stopped.Done()

	_ = g.channels.StopAll()
	if err := g.mem.Close(); err != nil {
		log.Printf("[gateway] close memory engine warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}
