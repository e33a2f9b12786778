package memory

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const searchCandidateLimit = 500

// InsertLongTerm writes one immutable long-term record. A missing ID or
// created date is filled in.
func (e *Engine) InsertLongTerm(rec LongTermRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedDate == "" {
		rec.CreatedDate = DateKey(time.Now())
	}
	if rec.Importance < 0 {
		rec.Importance = 0
	}
	if rec.Importance > 1 {
		rec.Importance = 1
	}

	var blob []byte
	if len(rec.Embedding) > 0 {
		encoded, err := EncodeVector(rec.Embedding)
		if err != nil {
			return "", fmt.Errorf("insert long term: %w", err)
		}
		blob = encoded
	}

	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return "", fmt.Errorf("insert long term: marshal tags: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.Exec(`
		INSERT INTO long_term (id, channel, content, summary, embedding, importance, tags, created_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Channel, rec.Content, rec.Summary, blob, rec.Importance, string(tags), rec.CreatedDate); err != nil {
		return "", fmt.Errorf("insert long term: %w", err)
	}
	return rec.ID, nil
}

// SearchSimilar returns up to k records whose embedding cosine similarity
// to query meets minScore, best first. Rows without embeddings are skipped;
// undecodable rows are logged and skipped rather than failing the search.
func (e *Engine) SearchSimilar(query []float32, k int, minScore float64, filter SearchFilter) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("search similar: empty query vector")
	}
	if k <= 0 {
		k = 5
	}

	q := `
		SELECT id, channel, content, summary, embedding, importance, tags, created_date
		FROM long_term
		WHERE embedding IS NOT NULL
	`
	args := []any{}
	if filter.Channel != "" {
		q += ` AND channel = ?`
		args = append(args, filter.Channel)
	}
	if filter.SinceDate != "" {
		q += ` AND created_date >= ?`
		args = append(args, filter.SinceDate)
	}
	if filter.MinImportance > 0 {
		q += ` AND importance >= ?`
		args = append(args, filter.MinImportance)
	}
	q += ` ORDER BY created_date DESC LIMIT ?`
	args = append(args, searchCandidateLimit)

	rows, err := e.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0)
	for rows.Next() {
		var rec LongTermRecord
		var blob []byte
		var tags string
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.Content, &rec.Summary, &blob, &rec.Importance, &tags, &rec.CreatedDate); err != nil {
			return nil, fmt.Errorf("scan long term: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			log.Printf("[memory] skip record %s: %v", rec.ID, err)
			continue
		}
		score, err := CosineSimilarity(query, vec)
		if err != nil {
			log.Printf("[memory] skip record %s: %v", rec.ID, err)
			continue
		}
		if score < minScore {
			continue
		}
		rec.Embedding = vec
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			rec.Tags = nil
		}
		results = append(results, SearchResult{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate long term: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// LongTermByDate returns records created on the given date key.
func (e *Engine) LongTermByDate(date string) ([]LongTermRecord, error) {
	rows, err := e.db.Query(`
		SELECT id, channel, content, summary, importance, tags, created_date
		FROM long_term WHERE created_date = ? ORDER BY id ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("long term by date: %w", err)
	}
	defer rows.Close()

	result := make([]LongTermRecord, 0)
	for rows.Next() {
		var rec LongTermRecord
		var tags string
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.Content, &rec.Summary, &rec.Importance, &tags, &rec.CreatedDate); err != nil {
			return nil, fmt.Errorf("scan long term: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			rec.Tags = nil
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate long term: %w", err)
	}
	return result, nil
}

// SweepExpired deletes long-term records older than retentionDays.
func (e *Engine) SweepExpired(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := DateKey(time.Now().AddDate(0, 0, -retentionDays))

	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.db.Exec(`DELETE FROM long_term WHERE created_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("[memory] retention sweep removed %d records older than %s", n, cutoff)
	}
	return n, nil
}

func joinRecordLines(records []ShortTermRecord) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("[%s] %s", r.Author, r.Content))
	}
	return strings.Join(lines, "\n")
}
