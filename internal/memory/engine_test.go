package memory

import (
	"fmt"
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(filepath.Join(t.TempDir(), "triad.db"), 20)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewEngineReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "triad.db")

	e, err := NewEngine(dbPath, 20)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Schema creation is idempotent across reopens.
	e2, err := NewEngine(dbPath, 20)
	if err != nil {
		t.Fatalf("NewEngine reopen error: %v", err)
	}
	defer e2.Close()
}

func TestShortTermCapEnforced(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 25; i++ {
		err := e.AppendShortTerm(ShortTermRecord{
			Channel: "dev",
			Author:  "alice",
			Content: fmt.Sprintf("message %02d", i),
		})
		if err != nil {
			t.Fatalf("AppendShortTerm %d error: %v", i, err)
		}
	}

	records, err := e.LoadShortTerm("dev", 0)
	if err != nil {
		t.Fatalf("LoadShortTerm error: %v", err)
	}
	if len(records) != 20 {
		t.Fatalf("got %d records, want exactly 20", len(records))
	}
	if records[0].Content != "message 05" {
		t.Fatalf("oldest surviving record = %q, want %q", records[0].Content, "message 05")
	}
	if records[19].Content != "message 24" {
		t.Fatalf("newest record = %q, want %q", records[19].Content, "message 24")
	}
}

func TestShortTermChannelsIsolated(t *testing.T) {
	e := newTestEngine(t)

	_ = e.AppendShortTerm(ShortTermRecord{Channel: "dev", Content: "a"})
	_ = e.AppendShortTerm(ShortTermRecord{Channel: "design", Content: "b"})

	dev, err := e.LoadShortTerm("dev", 0)
	if err != nil {
		t.Fatalf("LoadShortTerm error: %v", err)
	}
	if len(dev) != 1 || dev[0].Content != "a" {
		t.Fatalf("dev records = %+v, want exactly [a]", dev)
	}

	empty, err := e.LoadShortTerm("unknown", 0)
	if err != nil {
		t.Fatalf("LoadShortTerm unknown channel error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("unknown channel returned %d records, want empty slice", len(empty))
	}
}

func TestScoreImportance(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		mentionsTask bool
		above        float64
		below        float64
	}{
		{"empty", "", false, -1, 0.01},
		{"small talk", "lol nice", false, -1, 0.3},
		{"decision", "we decided to fix the release bug before the deadline, remember the plan", false, 0.6, -1},
		{"task mention", "task commit please", true, 0.6, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ScoreImportance(tt.content, tt.mentionsTask)
			if score < 0 || score > 1 {
				t.Fatalf("score %v out of [0,1]", score)
			}
			if tt.above >= 0 && score < tt.above {
				t.Fatalf("score = %v, want >= %v", score, tt.above)
			}
			if tt.below >= 0 && score > tt.below {
				t.Fatalf("score = %v, want <= %v", score, tt.below)
			}
		})
	}
}
