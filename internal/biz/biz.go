package biz

import (
	"github.com/rs/zerolog"

	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
	"github.com/mentionwatch/mentionwatch/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Events    *usecase.EventUsecase
	Identity  *usecase.IdentityResolver
	Extractor *usecase.Extractor
}

// NewUsecases wires the usecases over the given repositories
func NewUsecases(eventRepo repo.EventRepo, extractor usecase.ExtractorConfig, log zerolog.Logger) *Usecases {
	return &Usecases{
		Events:    usecase.NewEventUsecase(eventRepo, log.With().Str("component", "events").Logger()),
		Identity:  usecase.NewIdentityResolver(log.With().Str("component", "identity").Logger()),
		Extractor: usecase.NewExtractor(extractor, log.With().Str("component", "extractor").Logger()),
	}
}
