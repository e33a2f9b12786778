package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stellarlinkco/triad/internal/bus"
	"github.com/stellarlinkco/triad/internal/command"
	"github.com/stellarlinkco/triad/internal/llm"
	"github.com/stellarlinkco/triad/internal/memory"
	"github.com/stellarlinkco/triad/internal/persona"
	"github.com/stellarlinkco/triad/internal/phase"
)

// Stage names used for metrics keys.
const (
	StageShortTerm = "short_term"
	StageRetrieve  = "retrieve"
	StageGenerate  = "generate"
	StagePersist   = "persist"
)

// Result is what one processed message produced.
type Result struct {
	Persona      string
	Text         string
	FallbackUsed bool
	TaskCommand  bool
}

// Options tunes the pipeline; zero values pick the documented defaults.
type Options struct {
	Timeout             time.Duration
	RetrievalTopK       int
	SimilarityThreshold float64
	ImportanceThreshold float64
	MaxWorkers          int64
}

func (o *Options) fill() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RetrievalTopK <= 0 {
		o.RetrievalTopK = 5
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = 0.7
	}
	if o.ImportanceThreshold <= 0 {
		o.ImportanceThreshold = 0.65
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 4
	}
}

// Pipeline turns one inbound message into one persona response, updating
// both memory tiers along the way.
type Pipeline struct {
	mem     *memory.Engine
	client  llm.Client
	catalog *persona.Catalog
	machine *phase.Machine
	bus     *bus.MessageBus
	opts    Options
	sem     *semaphore.Weighted
	metrics *Metrics
}

// NewPipeline wires the pipeline. The llm.Client is expected to be the
// rate-limited gateway, not a raw client.
func NewPipeline(mem *memory.Engine, client llm.Client, catalog *persona.Catalog, machine *phase.Machine, mbus *bus.MessageBus, opts Options) *Pipeline {
	opts.fill()
	return &Pipeline{
		mem:     mem,
		client:  client,
		catalog: catalog,
		machine: machine,
		bus:     mbus,
		opts:    opts,
		sem:     semaphore.NewWeighted(opts.MaxWorkers),
		metrics: newMetrics(),
	}
}

// Metrics returns the per-stage counters snapshot.
func (p *Pipeline) Metrics() map[string]StageMetrics {
	return p.metrics.snapshot()
}

// Handle runs Process under the worker cap. The consume loop calls this
// from one goroutine per message; the semaphore bounds how many touch the
// model and the database at once.
func (p *Pipeline) Handle(ctx context.Context, msg bus.InboundMessage) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	if _, err := p.Process(ctx, msg); err != nil {
		log.Printf("[supervisor] process %s: %v", msg.ID, err)
	}
}

// Process runs the four-stage pipeline for one message. Generation runs
// under the hard timeout; the memory persist still happens when the model
// leg times out, so a degraded reply never loses the conversation trace.
func (p *Pipeline) Process(ctx context.Context, msg bus.InboundMessage) (*Result, error) {
	if command.IsTaskCommand(msg.Content) && !msg.AuthorIsBot {
		return p.handleTaskCommand(msg), nil
	}

	genCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	snap := p.machine.Snapshot()

	// Stage 1: short-term context.
	start := time.Now()
	shortTerm, err := p.mem.LoadShortTerm(msg.Channel, 0)
	p.metrics.observe(StageShortTerm, time.Since(start), err)
	if err != nil {
		log.Printf("[supervisor] short-term load for %s: %v", msg.Channel, err)
		shortTerm = nil
	}

	// Stage 2: long-term retrieval. An embedding failure degrades to an
	// empty context rather than failing the message.
	start = time.Now()
	queryVec, longTerm, err := p.retrieve(genCtx, msg)
	p.metrics.observe(StageRetrieve, time.Since(start), err)
	if err != nil {
		log.Printf("[supervisor] retrieval for %s: %v", msg.Channel, err)
	}

	// Stage 3: one combined selection+generation call.
	start = time.Now()
	result, genErr := p.generate(genCtx, msg, snap, shortTerm, longTerm)
	p.metrics.observe(StageGenerate, time.Since(start), genErr)
	if genErr != nil {
		log.Printf("[supervisor] generation for %s: %v, using fallback", msg.Channel, genErr)
		result = p.fallback(msg.Channel)
	}

	// Stage 4: persist. Uses the caller's context so a generation timeout
	// does not cancel the write.
	start = time.Now()
	persistErr := p.persist(ctx, msg, snap, queryVec)
	p.metrics.observe(StagePersist, time.Since(start), persistErr)
	if persistErr != nil {
		log.Printf("[supervisor] persist for %s: %v", msg.Channel, persistErr)
	}

	p.send(bus.OutboundMessage{
		Channel: msg.Channel,
		Persona: result.Persona,
		Content: result.Text,
		ReplyTo: msg.ID,
	})
	return result, nil
}

// handleTaskCommand parses and applies a task command, replying as the
// channel's default voice. Malformed input is echoed back verbatim and
// changes nothing.
func (p *Pipeline) handleTaskCommand(msg bus.InboundMessage) *Result {
	voice := p.catalog.DefaultFor(msg.Channel)
	reply := func(text string) *Result {
		p.send(bus.OutboundMessage{Channel: msg.Channel, Persona: voice.ID, Content: text, ReplyTo: msg.ID})
		return &Result{Persona: voice.ID, Text: text, TaskCommand: true}
	}

	cmd, err := command.ParseTask(msg.Content)
	if err != nil {
		return reply(err.Error())
	}

	switch cmd.Action {
	case command.ActionCommit:
		err = p.machine.CommitTask(cmd.Channel, cmd.Description)
	case command.ActionChange:
		err = p.machine.ChangeTask(cmd.Channel, cmd.Description)
	}
	if err != nil {
		return reply(err.Error())
	}
	return reply(fmt.Sprintf("Task %s accepted for %s: %s", cmd.Action, cmd.Channel, cmd.Description))
}

func (p *Pipeline) retrieve(ctx context.Context, msg bus.InboundMessage) ([]float32, []memory.SearchResult, error) {
	vec, err := p.client.Embed(ctx, msg.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := p.mem.SearchSimilar(vec, p.opts.RetrievalTopK, p.opts.SimilarityThreshold, memory.SearchFilter{})
	if err != nil {
		return vec, nil, fmt.Errorf("search long term: %w", err)
	}
	return vec, results, nil
}

func (p *Pipeline) generate(ctx context.Context, msg bus.InboundMessage, snap phase.Snapshot, shortTerm []memory.ShortTermRecord, longTerm []memory.SearchResult) (*Result, error) {
	candidates := p.catalog.All()

	// A message mentioning exactly one catalog persona pins selection:
	// only that persona is offered to the model.
	pinned := ""
	if len(msg.Mentions) == 1 && p.catalog.Has(msg.Mentions[0]) {
		pinned = msg.Mentions[0]
		profile, _ := p.catalog.Get(pinned)
		candidates = []persona.Profile{profile}
	}

	req := llm.GenerateRequest{
		Message:   msg.Content,
		Channel:   msg.Channel,
		Phase:     snap.Phase.String(),
		ShortTerm: contextFromShortTerm(shortTerm),
		LongTerm:  contextFromSearch(longTerm),
		Personas:  personaInfos(candidates),
	}
	if snap.Task != nil {
		req.Task = fmt.Sprintf("%s (in %s)", snap.Task.Description, snap.Task.Channel)
	}

	generated, err := p.client.SelectAndGenerate(ctx, req)
	if err != nil {
		return nil, err
	}

	selected := generated.Persona
	if pinned != "" {
		selected = pinned
	} else if !p.catalog.Has(selected) {
		fallback := p.catalog.DefaultFor(msg.Channel)
		log.Printf("[supervisor] model picked unknown persona %q, using %s", selected, fallback.ID)
		selected = fallback.ID
	}

	return &Result{Persona: selected, Text: generated.Text}, nil
}

// fallback produces the deterministic degraded reply for a channel.
func (p *Pipeline) fallback(channel string) *Result {
	voice := p.catalog.DefaultFor(channel)
	return &Result{
		Persona:      voice.ID,
		Text:         fmt.Sprintf("%s here. I can't reach my full train of thought right now, but I've noted this and will come back to it.", voice.DisplayName),
		FallbackUsed: true,
	}
}

// persist appends the message to the channel's short-term window and, when
// the importance heuristic crosses the threshold, writes an immediate
// long-term record from the already-computed query embedding.
func (p *Pipeline) persist(ctx context.Context, msg bus.InboundMessage, snap phase.Snapshot, queryVec []float32) error {
	if err := p.mem.AppendShortTerm(memory.ShortTermRecord{
		Channel: msg.Channel,
		Author:  msg.AuthorID,
		Content: msg.Content,
	}); err != nil {
		return err
	}

	mentionsTask := snap.Task != nil && snap.Task.Channel == msg.Channel
	score := memory.ScoreImportance(msg.Content, mentionsTask)
	if score < p.opts.ImportanceThreshold {
		return nil
	}

	vec := queryVec
	if len(vec) == 0 {
		embedded, err := p.client.Embed(ctx, msg.Content)
		if err != nil {
			log.Printf("[supervisor] skip immediate long-term write for %s: %v", msg.Channel, err)
			return nil
		}
		vec = embedded
	}

	_, err := p.mem.InsertLongTerm(memory.LongTermRecord{
		Channel:    msg.Channel,
		Content:    msg.Content,
		Summary:    msg.Content,
		Embedding:  vec,
		Importance: score,
	})
	return err
}

func (p *Pipeline) send(msg bus.OutboundMessage) {
	select {
	case p.bus.Outbound <- msg:
	default:
		log.Printf("[supervisor] outbound channel full, dropping reply for %s", msg.Channel)
	}
}

func contextFromShortTerm(records []memory.ShortTermRecord) []llm.ContextRecord {
	out := make([]llm.ContextRecord, 0, len(records))
	for _, r := range records {
		out = append(out, llm.ContextRecord{Author: r.Author, Content: r.Content, Timestamp: r.CreatedAt})
	}
	return out
}

func contextFromSearch(results []memory.SearchResult) []llm.ContextRecord {
	out := make([]llm.ContextRecord, 0, len(results))
	for _, r := range results {
		out = append(out, llm.ContextRecord{Content: r.Record.Summary, Timestamp: r.Record.CreatedDate})
	}
	return out
}

func personaInfos(profiles []persona.Profile) []llm.PersonaInfo {
	out := make([]llm.PersonaInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, llm.PersonaInfo{ID: p.ID, DisplayName: p.DisplayName, Style: p.Style})
	}
	return out
}
