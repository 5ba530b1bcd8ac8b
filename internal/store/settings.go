package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Settings returns every persisted runtime override.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("store: settings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// PutSettings upserts all values in one transaction.
func (s *Store) PutSettings(ctx context.Context, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			_, err := tx.ExecContext(ctx, s.q(`
INSERT INTO settings (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`), k, values[k])
			if err != nil {
				return fmt.Errorf("store: put setting %s: %w", k, err)
			}
		}
		return nil
	})
}

// RecordEvent appends ev to the event log. ev.CreatedAt defaults to now.
func (s *Store) RecordEvent(ctx context.Context, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO events (event_id, name, payload, created_at) VALUES (?, ?, ?, ?)`),
		ev.EventID, ev.Name, ev.Payload, ev.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: record event: %w", err)
	}
	return nil
}

// ListEvents returns the newest limit events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, event_id, name, payload, created_at FROM events ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var (
			ev      Event
			created int64
		)
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.Name, &ev.Payload, &created); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.CreatedAt = time.Unix(0, created)
		out = append(out, ev)
	}
	return out, rows.Err()
}
