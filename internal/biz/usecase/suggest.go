package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
)

// SuggestResult is what one suggestion request produced
type SuggestResult struct {
	Replies  []string
	Fallback bool
	Provider string
}

// SuggestUsecase wraps a provider with the timeout and static fallback
type SuggestUsecase struct {
	provider repo.SuggestionRepo
	timeout  time.Duration
	log      zerolog.Logger
}

// NewSuggestUsecase creates a new suggestion usecase. A nil provider always
// yields the static replies.
func NewSuggestUsecase(provider repo.SuggestionRepo, timeout time.Duration, log zerolog.Logger) *SuggestUsecase {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SuggestUsecase{provider: provider, timeout: timeout, log: log}
}

// Suggest never fails: any provider error, timeout or empty answer falls
// back to domain.DefaultReplies.
func (uc *SuggestUsecase) Suggest(ctx context.Context, text, hint string) SuggestResult {
	if uc.provider == nil {
		return SuggestResult{Replies: domain.FallbackReplies(), Fallback: true, Provider: string(domain.ProviderStatic)}
	}
	name := uc.provider.Name()

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	replies, err := uc.provider.Suggest(ctx, text, hint)
	if err != nil {
		uc.log.Warn().Err(err).Str("provider", name).Msg("suggestion provider failed, using defaults")
		return SuggestResult{Replies: domain.FallbackReplies(), Fallback: true, Provider: name}
	}
	if len(replies) == 0 {
		uc.log.Warn().Str("provider", name).Msg("suggestion provider returned nothing, using defaults")
		return SuggestResult{Replies: domain.FallbackReplies(), Fallback: true, Provider: name}
	}
	if len(replies) > domain.MaxSuggestions {
		replies = replies[:domain.MaxSuggestions]
	}
	return SuggestResult{Replies: replies, Provider: name}
}
