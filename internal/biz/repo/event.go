package repo

import (
	"context"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
)

// EventRepo is the dedup/event store interface
// Keyed uniquely by event id, listed newest first (SQLite)
type EventRepo interface {
	// Admit inserts the event unless its id is already stored
	Admit(ctx context.Context, event *domain.Event) (bool, error)

	// Get returns the event with the given id, or nil
	Get(ctx context.Context, id string) (*domain.Event, error)

	// SetSuggestions attaches suggested replies to a stored event
	SetSuggestions(ctx context.Context, id string, suggestions []string) (bool, error)

	// Remove deletes one event by id
	Remove(ctx context.Context, id string) (bool, error)

	// RemoveByThread deletes every event sharing threadID
	RemoveByThread(ctx context.Context, threadID string) (int64, error)

	// List returns all events ordered by createdAt descending
	List(ctx context.Context) ([]*domain.Event, error)
}

// StateRepo persists the scan cursor, identity cache and settings
type StateRepo interface {
	GetCursor(ctx context.Context) (domain.ScanCursor, error)
	SaveCursor(ctx context.Context, cursor domain.ScanCursor) error

	GetIdentity(ctx context.Context) (domain.Identity, error)
	SaveIdentity(ctx context.Context, id domain.Identity) error

	// GetSettings returns the stored settings and whether any were stored
	GetSettings(ctx context.Context) (domain.Settings, bool, error)
	SaveSettings(ctx context.Context, s domain.Settings) error
}
