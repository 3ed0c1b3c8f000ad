package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventRecord is one entry of the append-only event log.
type EventRecord struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppendEvent adds an entry to the event log.
func (s *Store) AppendEvent(ctx context.Context, id, eventType string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO event_log (id, type, payload)
		VALUES (?, ?, ?)
	`, id, eventType, string(payload))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// FetchUnprocessed returns up to limit unprocessed log entries in append
// order. Supports at-least-once replay for out-of-process consumers.
func (s *Store) FetchUnprocessed(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.QueryContext(ctx, `
		SELECT id, type, payload, created_at
		FROM event_log
		WHERE processed = 0
		ORDER BY rowid ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unprocessed events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		var payload string
		if err := rows.Scan(&rec.ID, &rec.Type, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return records, nil
}

// MarkProcessed flags the given log entries as consumed.
func (s *Store) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`UPDATE event_log SET processed = 1 WHERE id IN (%s)`, placeholders)
	if _, err := s.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark events processed: %w", err)
	}
	return nil
}

// ClearEventLog removes all log entries.
func (s *Store) ClearEventLog(ctx context.Context) error {
	if _, err := s.ExecContext(ctx, `DELETE FROM event_log`); err != nil {
		return fmt.Errorf("failed to clear event log: %w", err)
	}
	return nil
}
