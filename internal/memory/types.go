package memory

import "time"

// ShortTermRecord is one line of same-day conversational context.
// At most ShortTermLimit records survive per channel, oldest evicted first.
type ShortTermRecord struct {
	ID        int64
	Channel   string
	Author    string
	Content   string
	CreatedAt string
}

// LongTermRecord is one consolidated, embedding-indexed memory.
// Immutable after creation; removed only by the retention sweep.
type LongTermRecord struct {
	ID          string
	Channel     string
	Content     string
	Summary     string
	Embedding   []float32
	Importance  float64
	Tags        []string
	CreatedDate string
}

// SearchResult pairs a long-term record with its cosine similarity to the
// query embedding.
type SearchResult struct {
	Record LongTermRecord
	Score  float64
}

// SearchFilter narrows a similarity search.
type SearchFilter struct {
	Channel       string
	SinceDate     string // inclusive lower bound, YYYY-MM-DD
	MinImportance float64
}

// Stats is a compact snapshot for status reporting.
type Stats struct {
	ShortTermCount int
	LongTermCount  int
	ChannelCount   int
	LastRunDate    string
}

// DateKey formats t as the consolidation/retention date key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
