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

const (
	keyScanCursor = "scan_cursor"
	keyIdentity   = "identity"
	keySettings   = "settings"
)

// stateRepo is a JSON key/value table for the cursor, identity and settings
type stateRepo struct {
	db *sql.DB
}

// NewStateRepo creates a new State repository on an open database
func NewStateRepo(db *sql.DB) (repo.StateRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}
	return &stateRepo{db: db}, nil
}

// get decodes key into v; a missing key leaves v untouched and reports false
func (r *stateRepo) get(ctx context.Context, key string, v any) (bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query state %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode state %s: %w", key, err)
	}
	return true, nil
}

func (r *stateRepo) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode state %s: %w", key, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(b), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

// GetCursor returns the scan cursor, zero when absent
func (r *stateRepo) GetCursor(ctx context.Context) (domain.ScanCursor, error) {
	var c domain.ScanCursor
	_, err := r.get(ctx, keyScanCursor, &c)
	return c, err
}

// SaveCursor overwrites the scan cursor
func (r *stateRepo) SaveCursor(ctx context.Context, c domain.ScanCursor) error {
	return r.put(ctx, keyScanCursor, c)
}

// GetIdentity returns the cached identity, the sentinel when absent
func (r *stateRepo) GetIdentity(ctx context.Context) (domain.Identity, error) {
	id := domain.UnknownIdentity()
	if _, err := r.get(ctx, keyIdentity, &id); err != nil {
		return domain.UnknownIdentity(), err
	}
	return id, nil
}

// SaveIdentity caches the identity for display
func (r *stateRepo) SaveIdentity(ctx context.Context, id domain.Identity) error {
	return r.put(ctx, keyIdentity, id)
}

// GetSettings returns the stored settings
func (r *stateRepo) GetSettings(ctx context.Context) (domain.Settings, bool, error) {
	var s domain.Settings
	ok, err := r.get(ctx, keySettings, &s)
	return s, ok, err
}

// SaveSettings overwrites the settings
func (r *stateRepo) SaveSettings(ctx context.Context, s domain.Settings) error {
	return r.put(ctx, keySettings, s)
}
