package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
)

// ErrEventNotFound is returned when an id does not match a stored event
var ErrEventNotFound = errors.New("event not found")

// EventUsecase handles admission and removal of events
type EventUsecase struct {
	eventRepo repo.EventRepo
	log       zerolog.Logger
}

// NewEventUsecase creates a new event usecase
func NewEventUsecase(eventRepo repo.EventRepo, log zerolog.Logger) *EventUsecase {
	return &EventUsecase{eventRepo: eventRepo, log: log}
}

// Admit stores the event unless one with the same id exists. A duplicate is
// a no-op: nothing is updated and false is returned.
func (uc *EventUsecase) Admit(ctx context.Context, event *domain.Event) (bool, error) {
	if event == nil || event.ID == "" {
		return false, fmt.Errorf("admit event: missing id")
	}
	accepted, err := uc.eventRepo.Admit(ctx, event)
	if err != nil {
		return false, fmt.Errorf("admit event: %w", err)
	}
	if !accepted {
		uc.log.Debug().Str("event_id", event.ID).Msg("duplicate event suppressed")
	}
	return accepted, nil
}

// Get returns a stored event or ErrEventNotFound
func (uc *EventUsecase) Get(ctx context.Context, id string) (*domain.Event, error) {
	ev, err := uc.eventRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if ev == nil {
		return nil, ErrEventNotFound
	}
	return ev, nil
}

// List returns all events, newest first
func (uc *EventUsecase) List(ctx context.Context) ([]*domain.Event, error) {
	return uc.eventRepo.List(ctx)
}

// Remove deletes a single event
func (uc *EventUsecase) Remove(ctx context.Context, id string) error {
	removed, err := uc.eventRepo.Remove(ctx, id)
	if err != nil {
		return fmt.Errorf("remove event: %w", err)
	}
	if !removed {
		return ErrEventNotFound
	}
	return nil
}

// RemoveThread deletes every event in a thread
func (uc *EventUsecase) RemoveThread(ctx context.Context, threadID string) (int64, error) {
	if threadID == "" {
		return 0, nil
	}
	n, err := uc.eventRepo.RemoveByThread(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("remove thread: %w", err)
	}
	return n, nil
}

// Resolve clears what a reply to ev answers: the whole thread when the
// event has one, otherwise just the event.
func (uc *EventUsecase) Resolve(ctx context.Context, ev *domain.Event) (int64, error) {
	if ev.ThreadID != "" {
		return uc.RemoveThread(ctx, ev.ThreadID)
	}
	if err := uc.Remove(ctx, ev.ID); err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return 1, nil
}

// SetSuggestions merges suggested replies into a stored event. A removed
// event is not resurrected.
func (uc *EventUsecase) SetSuggestions(ctx context.Context, id string, suggestions []string) (bool, error) {
	if len(suggestions) > domain.MaxSuggestions {
		suggestions = suggestions[:domain.MaxSuggestions]
	}
	ok, err := uc.eventRepo.SetSuggestions(ctx, id, suggestions)
	if err != nil {
		return false, fmt.Errorf("set suggestions: %w", err)
	}
	return ok, nil
}
