package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/triad/internal/bus"
	"github.com/stellarlinkco/triad/internal/llm"
	"github.com/stellarlinkco/triad/internal/memory"
	"github.com/stellarlinkco/triad/internal/persona"
	"github.com/stellarlinkco/triad/internal/phase"
)

type fakeClient struct {
	generateResult *llm.GenerateResult
	generateErr    error
	embedErr       error
	lastRequest    llm.GenerateRequest
	generateCalls  int
}

func (f *fakeClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeClient) SelectAndGenerate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	f.generateCalls++
	f.lastRequest = req
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return f.generateResult, nil
}

func (f *fakeClient) Summarize(ctx context.Context, req llm.SummarizeRequest) (*llm.SummarizeResult, error) {
	return &llm.SummarizeResult{Summary: "summary"}, nil
}

type fixture struct {
	pipeline *Pipeline
	mem      *memory.Engine
	machine  *phase.Machine
	bus      *bus.MessageBus
	client   *fakeClient
}

func newFixture(t *testing.T, client *fakeClient) *fixture {
	t.Helper()
	mem, err := memory.NewEngine(filepath.Join(t.TempDir(), "triad.db"), 20)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	machine := phase.New(phase.Active)
	mbus := bus.NewMessageBus(16)
	catalog := persona.NewCatalog(nil)
	p := NewPipeline(mem, client, catalog, machine, mbus, Options{})
	return &fixture{pipeline: p, mem: mem, machine: machine, bus: mbus, client: client}
}

func (f *fixture) drainOutbound(t *testing.T) bus.OutboundMessage {
	t.Helper()
	select {
	case msg := <-f.bus.Outbound:
		return msg
	default:
		t.Fatal("no outbound message emitted")
		return bus.OutboundMessage{}
	}
}

// blockingClient never answers a generation call until its context is
// cancelled, simulating a hung provider.
type blockingClient struct {
	fakeClient
}

func (b *blockingClient) SelectAndGenerate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProcessTimeoutFallsBack(t *testing.T) {
	mem, err := memory.NewEngine(filepath.Join(t.TempDir(), "triad.db"), 20)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	mbus := bus.NewMessageBus(16)
	catalog := persona.NewCatalog(nil)
	p := NewPipeline(mem, &blockingClient{}, catalog, phase.New(phase.Active), mbus, Options{
		Timeout: 50 * time.Millisecond,
	})

	start := time.Now()
	result, err := p.Process(context.Background(), bus.InboundMessage{
		ID:       "m-slow",
		Channel:  "development",
		AuthorID: "alice",
		Content:  "anything there?",
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Process took %s, the timeout did not cut the hung call", elapsed)
	}
	if !result.FallbackUsed {
		t.Fatal("expected the fallback reply after the generation timeout")
	}
	if result.Persona != "lynq" {
		t.Fatalf("fallback persona = %q, want the development default", result.Persona)
	}

	// The trace still lands in short-term memory.
	records, err := mem.LoadShortTerm("development", 0)
	if err != nil {
		t.Fatalf("LoadShortTerm error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d short-term records, want 1 despite the timeout", len(records))
	}
}

func TestProcessMentionPinsSelection(t *testing.T) {
	client := &fakeClient{generateResult: &llm.GenerateResult{Persona: "lynq", Text: "on it", Confidence: 0.9}}
	f := newFixture(t, client)

	msg := bus.InboundMessage{
		ID:       "m1",
		Channel:  "development",
		AuthorID: "alice",
		Content:  "hey, can you look at the importer?",
		Mentions: []string{"lynq"},
	}
	result, err := f.pipeline.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if result.Persona != "lynq" {
		t.Fatalf("persona = %q, want pinned lynq", result.Persona)
	}
	if result.FallbackUsed {
		t.Fatal("fallback used on a healthy call")
	}
	if len(client.lastRequest.Personas) != 1 || client.lastRequest.Personas[0].ID != "lynq" {
		t.Fatalf("model offered %+v, want only the pinned persona", client.lastRequest.Personas)
	}

	records, err := f.mem.LoadShortTerm("development", 0)
	if err != nil {
		t.Fatalf("LoadShortTerm error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d short-term records, want exactly 1", len(records))
	}
	if records[0].Content != msg.Content {
		t.Fatalf("persisted content = %q", records[0].Content)
	}

	out := f.drainOutbound(t)
	if out.Persona != "lynq" || out.ReplyTo != "m1" {
		t.Fatalf("outbound = %+v", out)
	}
}

func TestProcessFallbackOnGenerationFailure(t *testing.T) {
	client := &fakeClient{generateErr: errors.New("model unavailable")}
	f := newFixture(t, client)

	result, err := f.pipeline.Process(context.Background(), bus.InboundMessage{
		ID: "m2", Channel: "development", AuthorID: "alice", Content: "anyone around?",
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if !result.FallbackUsed {
		t.Fatal("expected fallback result")
	}
	if result.Persona != "lynq" {
		t.Fatalf("fallback persona = %q, want channel default lynq", result.Persona)
	}
	if result.Text == "" {
		t.Fatal("fallback text must not be empty")
	}

	// The degraded turn still leaves a memory trace.
	records, err := f.mem.LoadShortTerm("development", 0)
	if err != nil {
		t.Fatalf("LoadShortTerm error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d short-term records, want 1", len(records))
	}
}

func TestProcessOffCatalogPersonaReplaced(t *testing.T) {
	client := &fakeClient{generateResult: &llm.GenerateResult{Persona: "ghost", Text: "boo"}}
	f := newFixture(t, client)

	result, err := f.pipeline.Process(context.Background(), bus.InboundMessage{
		ID: "m3", Channel: "creation", AuthorID: "alice", Content: "thoughts on the palette?",
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if result.Persona != "paz" {
		t.Fatalf("persona = %q, want channel default paz", result.Persona)
	}
}

func TestProcessEmbedFailureDegradesToEmptyContext(t *testing.T) {
	client := &fakeClient{
		embedErr:       errors.New("embeddings down"),
		generateResult: &llm.GenerateResult{Persona: "spectra", Text: "noted"},
	}
	f := newFixture(t, client)

	result, err := f.pipeline.Process(context.Background(), bus.InboundMessage{
		ID: "m4", Channel: "command_center", AuthorID: "alice", Content: "status?",
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if result.FallbackUsed {
		t.Fatal("embed failure must not force the fallback reply")
	}
	if len(client.lastRequest.LongTerm) != 0 {
		t.Fatalf("long-term context = %+v, want empty", client.lastRequest.LongTerm)
	}
}

func TestProcessImportantMessageWritesLongTerm(t *testing.T) {
	client := &fakeClient{generateResult: &llm.GenerateResult{Persona: "spectra", Text: "logged"}}
	f := newFixture(t, client)

	_, err := f.pipeline.Process(context.Background(), bus.InboundMessage{
		ID:       "m5",
		Channel:  "command_center",
		AuthorID: "alice",
		Content:  "we decided the release deadline is friday, remember to fix the migration bug before then and update the plan document so everyone sees it",
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}

	stats, err := f.mem.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.LongTermCount != 1 {
		t.Fatalf("long-term count = %d, want 1 immediate write", stats.LongTermCount)
	}
}

func TestProcessTaskCommandCommits(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client)

	result, err := f.pipeline.Process(context.Background(), bus.InboundMessage{
		ID: "m6", Channel: "command_center", AuthorID: "alice",
		Content: `task commit development "ship the importer"`,
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if !result.TaskCommand {
		t.Fatal("task command not intercepted")
	}
	if client.generateCalls != 0 {
		t.Fatalf("model called %d times for a task command, want 0", client.generateCalls)
	}

	task := f.machine.Snapshot().Task
	if task == nil || task.Channel != "development" {
		t.Fatalf("task = %+v, want committed for development", task)
	}

	out := f.drainOutbound(t)
	if !strings.Contains(out.Content, "accepted") {
		t.Fatalf("ack = %q", out.Content)
	}
}

func TestProcessMalformedTaskCommandChangesNothing(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client)

	result, err := f.pipeline.Process(context.Background(), bus.InboundMessage{
		ID: "m7", Channel: "command_center", AuthorID: "alice",
		Content: "task commit",
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if !result.TaskCommand {
		t.Fatal("malformed task command not intercepted")
	}
	if !strings.Contains(result.Text, "invalid task command") {
		t.Fatalf("reply = %q, want validation message", result.Text)
	}
	if f.machine.Snapshot().Task != nil {
		t.Fatal("malformed command mutated the task")
	}
}

func TestProcessTaskCommandOutsideActiveRejected(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(t, client)
	f.machine.Transition(phase.Free)

	result, err := f.pipeline.Process(context.Background(), bus.InboundMessage{
		ID: "m8", Channel: "command_center", AuthorID: "alice",
		Content: `task commit development "x"`,
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if !strings.Contains(result.Text, "active phase") {
		t.Fatalf("reply = %q, want phase rejection", result.Text)
	}
	if f.machine.Snapshot().Task != nil {
		t.Fatal("task committed outside active phase")
	}
}

func TestMetricsCountStages(t *testing.T) {
	client := &fakeClient{generateResult: &llm.GenerateResult{Persona: "spectra", Text: "hello"}}
	f := newFixture(t, client)

	for i := 0; i < 3; i++ {
		if _, err := f.pipeline.Process(context.Background(), bus.InboundMessage{
			ID: "m", Channel: "lounge", AuthorID: "alice", Content: "hi",
		}); err != nil {
			t.Fatalf("Process error: %v", err)
		}
	}

	metrics := f.pipeline.Metrics()
	for _, stage := range []string{StageShortTerm, StageRetrieve, StageGenerate, StagePersist} {
		if metrics[stage].Count != 3 {
			t.Fatalf("stage %s count = %d, want 3", stage, metrics[stage].Count)
		}
		if metrics[stage].Errors != 0 {
			t.Fatalf("stage %s errors = %d, want 0", stage, metrics[stage].Errors)
		}
	}
}
