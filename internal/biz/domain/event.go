package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxSuggestions caps the number of suggested replies kept per event
const MaxSuggestions = 4

// Event is a normalized "something happened the user should know about"
type Event struct {
	ID                 string    `json:"id"`
	Text               string    `json:"text"`
	CreatedAt          time.Time `json:"createdAt"`
	ThreadID           string    `json:"threadId"`
	ChannelID          string    `json:"channelId"`
	ChannelName        string    `json:"channelName,omitempty"`
	IsDirectMention    bool      `json:"isDirectMention"`
	IsDirectMessage    bool      `json:"isDirectMessage"`
	SourceURL          string    `json:"sourceUrl"`
	SuggestedResponses []string  `json:"suggestedResponses"`
}

// Kind classifies the event for logging, metrics and notification titles
func (e *Event) Kind() string {
	switch {
	case e.IsDirectMention:
		return "mention"
	case e.IsDirectMessage:
		return "dm"
	default:
		return "ambient"
	}
}

// WithSuggestions returns a copy carrying at most MaxSuggestions replies
func (e Event) WithSuggestions(s []string) Event {
	if len(s) > MaxSuggestions {
		s = s[:MaxSuggestions]
	}
	e.SuggestedResponses = append([]string{}, s...)
	return e
}

// ScanCursor records when the last scan pass completed
type ScanCursor struct {
	LastCheckedAt time.Time `json:"lastCheckedAt"`
}

// IsZero reports whether no scan has completed yet
func (c ScanCursor) IsZero() bool {
	return c.LastCheckedAt.IsZero()
}

// Since returns the time elapsed since the last scan, relative to now
func (c ScanCursor) Since(now time.Time) time.Duration {
	return now.Sub(c.LastCheckedAt)
}

// Truncate shortens s to n runes, appending "..." when cut
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// CollapseSpace folds runs of whitespace into single spaces
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
