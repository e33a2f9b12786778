package memory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stellarlinkco/triad/internal/llm"
)

const (
	consolidationBatchSize = 10
	consolidationGap       = 30 * time.Minute
	sqliteTimeLayout       = "2006-01-02 15:04:05"
)

// ConsolidationClient is the slice of the model gateway the daily batch
// needs.
type ConsolidationClient interface {
	Summarize(ctx context.Context, req llm.SummarizeRequest) (*llm.SummarizeResult, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Consolidate migrates every channel's short-term window into long-term
// records for the given date key. A channel already recorded in the run
// ledger for that key is skipped, which makes the job idempotent across
// retries and restarts. One channel's failure is logged and isolated; the
// channel keeps its short-term records and is retried on the next run.
func (e *Engine) Consolidate(ctx context.Context, date string, client ConsolidationClient) error {
	channels, err := e.ShortTermChannels()
	if err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}

	for _, channel := range channels {
		if err := e.consolidateChannel(ctx, date, channel, client); err != nil {
			log.Printf("[memory] consolidation failed for %s (%s): %v", channel, date, err)
		}
	}
	return nil
}

func (e *Engine) consolidateChannel(ctx context.Context, date, channel string, client ConsolidationClient) error {
	done, err := e.runCompleted(date, channel)
	if err != nil {
		return err
	}
	if done {
		log.Printf("[memory] consolidation already completed for %s (%s), skipping", channel, date)
		return nil
	}

	// Hold the channel's exclusive section for the whole drain-and-clear
	// so pipeline appends cannot interleave.
	lock := e.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	records, err := e.LoadShortTerm(channel, e.shortTermLimit)
	if err != nil {
		return err
	}

	for _, batch := range batchByWindow(records) {
		lines := make([]llm.ContextRecord, 0, len(batch))
		for _, r := range batch {
			lines = append(lines, llm.ContextRecord{Author: r.Author, Content: r.Content, Timestamp: r.CreatedAt})
		}

		result, err := client.Summarize(ctx, llm.SummarizeRequest{Channel: channel, Records: lines})
		if err != nil {
			return fmt.Errorf("summarize window: %w", err)
		}

		vec, err := client.Embed(ctx, result.Summary)
		if err != nil {
			return fmt.Errorf("embed summary: %w", err)
		}

		if _, err := e.InsertLongTerm(LongTermRecord{
			Channel:     channel,
			Content:     joinRecordLines(batch),
			Summary:     result.Summary,
			Embedding:   vec,
			Importance:  result.Importance,
			Tags:        result.Tags,
			CreatedDate: date,
		}); err != nil {
			return err
		}
	}

	if err := e.clearShortTermLocked(channel); err != nil {
		return err
	}
	return e.recordRun(date, channel)
}

// batchByWindow groups records into topic/time windows: a new window opens
// on a long silence or when the current one is full.
func batchByWindow(records []ShortTermRecord) [][]ShortTermRecord {
	if len(records) == 0 {
		return nil
	}

	batches := make([][]ShortTermRecord, 0, 1)
	current := []ShortTermRecord{records[0]}
	prev := parseSQLiteTime(records[0].CreatedAt)

	for _, r := range records[1:] {
		ts := parseSQLiteTime(r.CreatedAt)
		if len(current) >= consolidationBatchSize || (!prev.IsZero() && !ts.IsZero() && ts.Sub(prev) > consolidationGap) {
			batches = append(batches, current)
			current = nil
		}
		current = append(current, r)
		prev = ts
	}
	batches = append(batches, current)
	return batches
}

func parseSQLiteTime(value string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (e *Engine) runCompleted(date, channel string) (bool, error) {
	var count int
	if err := e.db.QueryRow(`
		SELECT COUNT(*) FROM consolidation_runs WHERE run_date = ? AND channel = ?
	`, date, channel).Scan(&count); err != nil {
		return false, fmt.Errorf("check run ledger: %w", err)
	}
	return count > 0, nil
}

func (e *Engine) recordRun(date, channel string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.Exec(`
		INSERT OR IGNORE INTO consolidation_runs (run_date, channel) VALUES (?, ?)
	`, date, channel); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}
