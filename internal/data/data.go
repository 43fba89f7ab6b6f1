package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mentionwatch/mentionwatch/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// Repositories contains all repositories
type Repositories struct {
	Event repo.EventRepo
	State repo.StateRepo

	db *sql.DB
}

// NewRepositories opens the database at dbPath and creates all repositories
func NewRepositories(dbPath string) (*Repositories, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	eventRepo, err := NewEventRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	stateRepo, err := NewStateRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Repositories{
		Event: eventRepo,
		State: stateRepo,
		db:    db,
	}, nil
}

// Close closes the database
func (r *Repositories) Close() error {
	return r.db.Close()
}

func openDB(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the background loop is the only mutator anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	return db, nil
}
