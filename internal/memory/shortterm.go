package memory

import (
	"database/sql"
	"fmt"
	"strings"
)

// AppendShortTerm writes one record to the channel's window and evicts the
// oldest rows beyond the per-channel limit.
func (e *Engine) AppendShortTerm(rec ShortTermRecord) error {
	lock := e.channelLock(rec.Channel)
	lock.Lock()
	defer lock.Unlock()

	return e.appendShortTermLocked(rec)
}

func (e *Engine) appendShortTermLocked(rec ShortTermRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.db.Exec(`
		INSERT INTO short_term (channel, author, content)
		VALUES (?, ?, ?)
	`, rec.Channel, strings.TrimSpace(rec.Author), rec.Content); err != nil {
		return fmt.Errorf("append short term: %w", err)
	}

	if _, err := e.db.Exec(`
		DELETE FROM short_term
		WHERE channel = ? AND id NOT IN (
			SELECT id FROM short_term WHERE channel = ? ORDER BY id DESC LIMIT ?
		)
	`, rec.Channel, rec.Channel, e.shortTermLimit); err != nil {
		return fmt.Errorf("evict short term: %w", err)
	}
	return nil
}

// LoadShortTerm returns up to limit same-day records for the channel,
// oldest first. A channel with no records returns an empty slice.
func (e *Engine) LoadShortTerm(channel string, limit int) ([]ShortTermRecord, error) {
	if limit <= 0 {
		limit = e.shortTermLimit
	}
	rows, err := e.db.Query(`
		SELECT id, channel, author, content, created_at FROM (
			SELECT id, channel, author, content, created_at
			FROM short_term
			WHERE channel = ? AND created_at > datetime('now', '-1 day')
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("load short term: %w", err)
	}
	defer rows.Close()
	return scanShortTerm(rows)
}

// ShortTermChannels lists channels that currently hold short-term records.
func (e *Engine) ShortTermChannels() ([]string, error) {
	rows, err := e.db.Query(`SELECT DISTINCT channel FROM short_term ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("list short term channels: %w", err)
	}
	defer rows.Close()

	channels := make([]string, 0)
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}

func (e *Engine) clearShortTermLocked(channel string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.Exec(`DELETE FROM short_term WHERE channel = ?`, channel); err != nil {
		return fmt.Errorf("clear short term: %w", err)
	}
	return nil
}

func scanShortTerm(rows *sql.Rows) ([]ShortTermRecord, error) {
	result := make([]ShortTermRecord, 0)
	for rows.Next() {
		var r ShortTermRecord
		if err := rows.Scan(&r.ID, &r.Channel, &r.Author, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan short term: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate short term: %w", err)
	}
	return result, nil
}
