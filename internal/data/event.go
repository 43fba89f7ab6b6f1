package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
)

// eventRepo implements the Event repository
type eventRepo struct {
	db *sql.DB
}

// NewEventRepo creates a new Event repository on an open database
func NewEventRepo(db *sql.DB) (repo.EventRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			channel_name TEXT NOT NULL DEFAULT '',
			is_mention INTEGER NOT NULL DEFAULT 0,
			is_dm INTEGER NOT NULL DEFAULT 0,
			source_url TEXT NOT NULL DEFAULT '',
			suggestions TEXT NOT NULL DEFAULT '[]'
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_thread_id ON events(thread_id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &eventRepo{db: db}, nil
}

// Admit inserts the event; an existing id leaves the row untouched
func (r *eventRepo) Admit(ctx context.Context, e *domain.Event) (bool, error) {
	suggestions, err := json.Marshal(nonNil(e.SuggestedResponses))
	if err != nil {
		return false, fmt.Errorf("failed to encode suggestions: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO events (id, text, created_at, thread_id, channel_id, channel_name, is_mention, is_dm, source_url, suggestions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Text,
		e.CreatedAt.UnixMilli(),
		e.ThreadID,
		e.ChannelID,
		e.ChannelName,
		boolToInt(e.IsDirectMention),
		boolToInt(e.IsDirectMessage),
		e.SourceURL,
		string(suggestions),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// Get returns an event by id, or nil
func (r *eventRepo) Get(ctx context.Context, id string) (*domain.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, text, created_at, thread_id, channel_id, channel_name, is_mention, is_dm, source_url, suggestions
		FROM events
		WHERE id = ?
	`, id)

	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query event: %w", err)
	}
	return e, nil
}

// SetSuggestions replaces the suggestions of an existing event
func (r *eventRepo) SetSuggestions(ctx context.Context, id string, suggestions []string) (bool, error) {
	b, err := json.Marshal(nonNil(suggestions))
	if err != nil {
		return false, fmt.Errorf("failed to encode suggestions: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE events SET suggestions = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return false, fmt.Errorf("failed to update suggestions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Remove deletes one event
func (r *eventRepo) Remove(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveByThread deletes every event of a thread. An empty thread id
// matches nothing.
func (r *eventRepo) RemoveByThread(ctx context.Context, threadID string) (int64, error) {
	if threadID == "" {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete thread events: %w", err)
	}
	return res.RowsAffected()
}

// List returns all events, newest first
func (r *eventRepo) List(ctx context.Context) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, created_at, thread_id, channel_id, channel_name, is_mention, is_dm, source_url, suggestions
		FROM events
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var e domain.Event
	var createdAt int64
	var isMention, isDM int
	var suggestions string

	err := row.Scan(&e.ID, &e.Text, &createdAt, &e.ThreadID, &e.ChannelID, &e.ChannelName,
		&isMention, &isDM, &e.SourceURL, &suggestions)
	if err != nil {
		return nil, err
	}

	e.CreatedAt = time.UnixMilli(createdAt)
	e.IsDirectMention = isMention != 0
	e.IsDirectMessage = isDM != 0
	if err := json.Unmarshal([]byte(suggestions), &e.SuggestedResponses); err != nil {
		e.SuggestedResponses = nil
	}
	if e.SuggestedResponses == nil {
		e.SuggestedResponses = []string{}
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
