package gateway

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/triad/internal/bus"
	"github.com/stellarlinkco/triad/internal/config"
	"github.com/stellarlinkco/triad/internal/llm"
	"github.com/stellarlinkco/triad/internal/memory"
	"github.com/stellarlinkco/triad/internal/phase"
	"github.com/stellarlinkco/triad/internal/queue"
)

type stubClient struct{}

func (stubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubClient) SelectAndGenerate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	return &llm.GenerateResult{Persona: "spectra", Text: "ok"}, nil
}

func (stubClient) Summarize(ctx context.Context, req llm.SummarizeRequest) (*llm.SummarizeResult, error) {
	return &llm.SummarizeResult{Summary: "s"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.Memory.DBPath = filepath.Join(t.TempDir(), "triad.db")
	cfg.Channels.Console.Enabled = true
	cfg.Channels.Console.Port = 0 // never started in these tests
	return cfg
}

func newTestGateway(t *testing.T, at time.Time) *Gateway {
	t.Helper()
	g, err := NewWithOptions(testConfig(t), Options{
		Client: stubClient{},
		Now:    func() time.Time { return at },
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	t.Cleanup(func() { _ = g.mem.Close() })
	return g
}

func TestNewDerivesInitialPhaseFromClock(t *testing.T) {
	tests := []struct {
		clock time.Time
		want  phase.Phase
	}{
		{time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), phase.Standby},
		{time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), phase.Active},
		{time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC), phase.Free},
	}
	for _, tt := range tests {
		g := newTestGateway(t, tt.clock)
		if got := g.machine.Snapshot().Phase; got != tt.want {
			t.Fatalf("initial phase at %s = %s, want %s", tt.clock.Format("15:04"), got, tt.want)
		}
	}
}

func TestNewRejectsBadBoundary(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.ActiveAt = "25:99"
	if _, err := NewWithOptions(cfg, Options{Client: stubClient{}}); err == nil {
		t.Fatal("expected error for invalid boundary clock")
	}
}

func TestIngestLoopClassifiesPriorities(t *testing.T) {
	g := newTestGateway(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.ingestLoop(ctx)

	g.bus.Inbound <- bus.InboundMessage{ID: "plain", Channel: "lounge", AuthorID: "a", Content: "hi"}
	g.bus.Inbound <- bus.InboundMessage{ID: "mention", Channel: "development", AuthorID: "a", Content: "hey", Mentions: []string{"lynq"}}

	deadline, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()

	// Wait until the loop has ingested both before draining, so the
	// priority comparison is meaningful.
	for g.queue.Depth() < 2 {
		select {
		case <-deadline.Done():
			t.Fatalf("queue depth = %d, ingest loop stalled", g.queue.Depth())
		case <-time.After(5 * time.Millisecond):
		}
	}

	first, err := g.queue.Dequeue(deadline)
	if err != nil {
		t.Fatalf("Dequeue error: %v", err)
	}
	// The mention outranks the earlier plain message.
	if first.Message.ID != "mention" || first.Priority != queue.PriorityMention {
		t.Fatalf("first = %s (%s), want the mention", first.Message.ID, first.Priority)
	}

	second, err := g.queue.Dequeue(deadline)
	if err != nil {
		t.Fatalf("Dequeue error: %v", err)
	}
	if second.Message.ID != "plain" || second.Priority != queue.PriorityNormal {
		t.Fatalf("second = %s (%s), want the plain message", second.Message.ID, second.Priority)
	}
}

func TestAnnounceTransitionPostsNotice(t *testing.T) {
	g := newTestGateway(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC))

	g.machine.Transition(phase.Active)

	select {
	case msg := <-g.bus.Outbound:
		if msg.Channel != "command_center" {
			t.Fatalf("announcement channel = %q, want command_center", msg.Channel)
		}
		if msg.Persona != "spectra" {
			t.Fatalf("announcement persona = %q, want spectra", msg.Persona)
		}
		if msg.Content == "" {
			t.Fatal("empty announcement")
		}
	default:
		t.Fatal("no announcement posted on phase transition")
	}
}

func TestHealthSnapshotFields(t *testing.T) {
	g := newTestGateway(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	if err := g.machine.CommitTask("development", "ship it"); err != nil {
		t.Fatalf("CommitTask error: %v", err)
	}

	body, ok := g.healthSnapshot().(map[string]any)
	if !ok {
		t.Fatal("health snapshot is not a map")
	}
	for _, key := range []string{"status", "phase", "queueDepth", "breaker", "lastTick", "memory", "task"} {
		if _, present := body[key]; !present {
			t.Fatalf("health snapshot missing %q: %v", key, body)
		}
	}
	if body["phase"] != "active" {
		t.Fatalf("phase = %v, want active", body["phase"])
	}
	if body["breaker"] != "unknown" {
		t.Fatalf("breaker = %v, want unknown with injected client", body["breaker"])
	}
}

func TestConsolidationJobIsIdempotentAcrossRestart(t *testing.T) {
	at := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	cfg := testConfig(t)

	g, err := NewWithOptions(cfg, Options{Client: stubClient{}, Now: func() time.Time { return at }})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	if err := g.mem.AppendShortTerm(memoryRecord("development", "alice", "we agreed on the plan")); err != nil {
		t.Fatalf("AppendShortTerm error: %v", err)
	}

	g.runConsolidation()
	g.runConsolidation() // same date key, ledger skips

	stats, err := g.mem.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.LongTermCount != 1 {
		t.Fatalf("long-term count = %d, want 1 after repeated runs", stats.LongTermCount)
	}
	_ = g.mem.Close()
}

func TestDailyReportPostsMorningDigest(t *testing.T) {
	at := time.Date(2026, 3, 2, 6, 55, 0, 0, time.UTC)
	g := newTestGateway(t, at)

	if _, err := g.mem.InsertLongTerm(memory.LongTermRecord{
		Channel:     "development",
		Summary:     "shipped the importer fix",
		Importance:  0.9,
		Tags:        []string{"importer"},
		CreatedDate: memory.DateKey(at.AddDate(0, 0, -1)),
	}); err != nil {
		t.Fatalf("InsertLongTerm error: %v", err)
	}

	g.runDailyReport()

	select {
	case msg := <-g.bus.Outbound:
		if msg.Channel != "command_center" {
			t.Fatalf("report channel = %q, want command_center", msg.Channel)
		}
		if msg.Persona != "spectra" {
			t.Fatalf("report persona = %q, want spectra", msg.Persona)
		}
		if !strings.Contains(msg.Content, "shipped the importer fix") {
			t.Fatalf("report missing yesterday's highlight:\n%s", msg.Content)
		}
		if strings.Contains(msg.Content, "lounge") {
			t.Fatalf("social channel must not appear in the report:\n%s", msg.Content)
		}
	default:
		t.Fatal("no daily report posted")
	}
}

func memoryRecord(channel, author, content string) memory.ShortTermRecord {
	return memory.ShortTermRecord{Channel: channel, Author: author, Content: content}
}
