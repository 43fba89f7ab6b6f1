package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultReplies is the static fallback used whenever a provider fails
var DefaultReplies = []string{
	"Thanks for the mention. I'll look into this.",
	"I appreciate you bringing this to my attention.",
	"I'll review this and get back to you shortly.",
	"Thanks for the update. Let me check on this.",
}

var suggestionSplit = regexp.MustCompile(`\d+\.\s|\n+`)

// ParseSuggestions splits a model completion into at most MaxSuggestions
// replies. Numbered and line-separated lists are both accepted.
func ParseSuggestions(raw string) []string {
	var out []string
	for _, part := range suggestionSplit.Split(raw, -1) {
		part = strings.Trim(strings.TrimSpace(part), `"'-*• `)
		if part == "" {
			continue
		}
		out = append(out, part)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}

// FallbackReplies returns a fresh copy of DefaultReplies
func FallbackReplies() []string {
	return append([]string{}, DefaultReplies...)
}

// SuggestPrompts are the prompts sent to model-backed providers.
// UserTemplate receives the message text and an optional context hint.
type SuggestPrompts struct {
	System       string
	UserTemplate string
}

// DefaultSuggestPrompts returns the built-in prompts
func DefaultSuggestPrompts() SuggestPrompts {
	return SuggestPrompts{
		System: "You are an assistant helping to generate 4 brief, professional responses to a Slack message " +
			"where the user was mentioned. Each response should be concise (under 100 characters) and " +
			"appropriate for a workplace setting.",
		UserTemplate: "Generate 4 different brief responses to this Slack message where I was mentioned: %q. " +
			"Format each response on a new line with a number.",
	}
}

// Render builds the user message for text, appending hint when present
func (p SuggestPrompts) Render(text, hint string) string {
	tmpl := p.UserTemplate
	if tmpl == "" {
		tmpl = DefaultSuggestPrompts().UserTemplate
	}
	msg := fmt.Sprintf(tmpl, text)
	if hint != "" {
		msg += "\nContext: " + hint
	}
	return msg
}
