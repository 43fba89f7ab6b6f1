package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentionwatch/mentionwatch/internal/api"
	"github.com/mentionwatch/mentionwatch/internal/biz"
	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
	"github.com/mentionwatch/mentionwatch/internal/conf"
	"github.com/mentionwatch/mentionwatch/internal/data"
	"github.com/mentionwatch/mentionwatch/internal/logger"
	"github.com/mentionwatch/mentionwatch/internal/messenger"
	"github.com/mentionwatch/mentionwatch/internal/metrics"
	"github.com/mentionwatch/mentionwatch/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon the page shims and the popup connect to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := conf.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *conf.Config) error {
	log := newLogger(cfg.LogLevel, cfg.Debug)
	log.Info().
		Str("db", cfg.DBPath).
		Str("prompts", cfg.Prompts.Source).
		Msg("starting mentionwatch")

	repos, err := data.NewRepositories(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repos.Close()

	m := metrics.New()
	hub := messenger.NewHub(logger.Component(log, "popup"))

	notifiers := []repo.Notifier{data.NewLogNotifier(logger.Component(log, "notify")), data.NewPopupNotifier(hub)}
	notifiers = append(notifiers, remoteNotifiers(cfg, log)...)

	prompts := cfg.ToSuggestPrompts()
	newProvider := func(s domain.Settings) (repo.SuggestionRepo, error) {
		return data.NewSuggestionRepo(s, prompts, cfg.Suggest.BaseURL)
	}

	uc := biz.NewUsecases(repos.Event, cfg.ToExtractorConfig(), log)
	bg := service.NewBackground(service.BackgroundConfig{
		Defaults:       cfg.ToSettings(),
		RequestTimeout: cfg.Scan.RequestTimeout,
		SuggestTimeout: cfg.Suggest.Timeout,
	},
		uc.Events,
		repos.State,
		data.NewMultiNotifier(logger.Component(log, "notify"), notifiers...),
		hub,
		newProvider,
		m,
		logger.Component(log, "background"),
	)
	if err := bg.Start(ctx); err != nil {
		return fmt.Errorf("start background: %w", err)
	}
	defer bg.Stop()

	srv := api.NewServer(api.Config{
		Addr:           cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.Scan.RequestTimeout,
		Scheduler: service.SchedulerConfig{
			ScanInterval:     cfg.Scan.Interval,
			WatchdogInterval: cfg.Scan.Watchdog,
			Cooldown:         cfg.Scan.AmbientCooldown,
		},
	},
		bg,
		hub,
		uc.Identity,
		uc.Extractor,
		m,
		logger.Component(log, "api"),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
