package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
	"github.com/mentionwatch/mentionwatch/internal/infra/claude"
	"github.com/mentionwatch/mentionwatch/internal/infra/openai"
)

// chatClient is satisfied by the OpenAI-compatible and Claude clients
type chatClient interface {
	Chat(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// chatSuggestionRepo asks a chat model for replies
type chatSuggestionRepo struct {
	name    string
	client  chatClient
	prompts domain.SuggestPrompts
}

// NewChatSuggestionRepo wraps any chat client as a suggestion provider
func NewChatSuggestionRepo(name string, client chatClient, prompts domain.SuggestPrompts) repo.SuggestionRepo {
	if prompts.System == "" {
		prompts.System = domain.DefaultSuggestPrompts().System
	}
	return &chatSuggestionRepo{name: name, client: client, prompts: prompts}
}

// Suggest drafts replies; the raw completion is split into at most four
func (r *chatSuggestionRepo) Suggest(ctx context.Context, text, hint string) ([]string, error) {
	out, err := r.client.Chat(ctx, r.prompts.System, r.prompts.Render(text, hint))
	if err != nil {
		return nil, err
	}
	replies := domain.ParseSuggestions(out)
	if len(replies) == 0 {
		return nil, fmt.Errorf("%s returned no usable replies", r.name)
	}
	return replies, nil
}

func (r *chatSuggestionRepo) Name() string { return r.name }

// staticSuggestionRepo always answers with the default replies
type staticSuggestionRepo struct{}

func (staticSuggestionRepo) Suggest(context.Context, string, string) ([]string, error) {
	return domain.FallbackReplies(), nil
}

func (staticSuggestionRepo) Name() string { return string(domain.ProviderStatic) }

// ErrMissingAPIKey is returned when a remote provider is selected without a key
var ErrMissingAPIKey = errors.New("api key required")

// NewSuggestionRepo builds the provider selected in settings. baseURL
// overrides the vendor endpoint and is meant for tests and proxies.
func NewSuggestionRepo(s domain.Settings, prompts domain.SuggestPrompts, baseURL string) (repo.SuggestionRepo, error) {
	if s.NeedsAPIKey() && s.APIKey == "" {
		return nil, fmt.Errorf("%s provider: %w", s.Provider, ErrMissingAPIKey)
	}

	switch s.Provider {
	case domain.ProviderOpenAI:
		return NewChatSuggestionRepo("openai", openai.NewClient(s.APIKey, s.Model, baseURL), prompts), nil
	case domain.ProviderMoonshot:
		client := openai.NewMoonshotClient(s.APIKey, s.Model)
		if baseURL != "" {
			client = openai.NewClient(s.APIKey, client.Model(), baseURL)
		}
		return NewChatSuggestionRepo("moonshot", client, prompts), nil
	case domain.ProviderClaude:
		return NewChatSuggestionRepo("claude", claude.NewClient(s.APIKey, s.Model, baseURL), prompts), nil
	case domain.ProviderStatic, "":
		return staticSuggestionRepo{}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", s.Provider)
	}
}
