package repo

import "context"

// SuggestionRepo is the reply suggestion provider interface
type SuggestionRepo interface {
	// Suggest drafts short replies to a message
	// text: the message being answered
	// context: channel name or other hint for the model (optional)
	Suggest(ctx context.Context, text, context string) ([]string, error)

	// Name identifies the backend in logs
	Name() string
}

// Notification is what a notifier renders
type Notification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	TargetURL string `json:"targetUrl"`
	EventID   string `json:"eventId"`
}

// Notifier is the notification surface interface
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Name() string
}
