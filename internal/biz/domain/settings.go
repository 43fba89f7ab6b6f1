package domain

import (
	"fmt"
	"strings"
)

// ProviderType selects the reply suggestion backend
type ProviderType string

const (
	ProviderStatic   ProviderType = "static"
	ProviderOpenAI   ProviderType = "openai"
	ProviderClaude   ProviderType = "claude"
	ProviderMoonshot ProviderType = "moonshot"
)

// RedactedSecret replaces the API key in settings handed to clients
const RedactedSecret = "********"

// Settings is the user-editable configuration persisted next to the events.
// Absent fields decode to their zero values; Normalize fills defaults.
type Settings struct {
	Provider             ProviderType `json:"provider"`
	APIKey               string       `json:"apiKey,omitempty"`
	Model                string       `json:"model,omitempty"`
	NotificationsEnabled bool         `json:"notificationsEnabled"`
	SuggestionsEnabled   bool         `json:"suggestionsEnabled"`
	ManualUserName       string       `json:"manualUserName,omitempty"`
	SlackURL             string       `json:"slackUrl,omitempty"`
}

// Normalize trims fields and validates the provider. It runs once whenever
// settings are loaded or replaced, so read sites never re-check.
func (s Settings) Normalize() (Settings, error) {
	s.Provider = ProviderType(strings.ToLower(strings.TrimSpace(string(s.Provider))))
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.Model = strings.TrimSpace(s.Model)
	s.ManualUserName = strings.TrimSpace(s.ManualUserName)
	s.SlackURL = strings.TrimSpace(s.SlackURL)

	switch s.Provider {
	case "":
		s.Provider = ProviderStatic
	case ProviderStatic, ProviderOpenAI, ProviderClaude, ProviderMoonshot:
	default:
		return s, fmt.Errorf("unsupported provider %q", s.Provider)
	}
	return s, nil
}

// NeedsAPIKey reports whether the selected provider calls a remote API
func (s Settings) NeedsAPIKey() bool {
	return s.Provider != ProviderStatic
}

// Redacted returns a copy safe to hand to the popup
func (s Settings) Redacted() Settings {
	if s.APIKey != "" {
		s.APIKey = RedactedSecret
	}
	return s
}
