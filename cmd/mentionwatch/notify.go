package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
	"github.com/mentionwatch/mentionwatch/internal/conf"
	"github.com/mentionwatch/mentionwatch/internal/data"
	"github.com/mentionwatch/mentionwatch/internal/infra/feishu"
)

// remoteNotifiers returns the configured off-machine notification targets
func remoteNotifiers(cfg *conf.Config, log zerolog.Logger) []repo.Notifier {
	var notifiers []repo.Notifier
	if cfg.Feishu.Enabled() {
		client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.ChatID, cfg.Feishu.BaseURL)
		notifiers = append(notifiers, data.NewFeishuNotifier(client))
		log.Info().Str("chat", cfg.Feishu.ChatID).Msg("feishu notifications enabled")
	}
	if cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, data.NewSlackWebhookNotifier(cfg.Slack.WebhookURL))
		log.Info().Msg("slack webhook notifications enabled")
	}
	return notifiers
}

// newNotifyCmd sends one test notification through the configured targets
func newNotifyCmd() *cobra.Command {
	var title, body, link string

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification to the configured Feishu chat and Slack webhook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := conf.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			log := newLogger(cfg.LogLevel, cfg.Debug)

			notifiers := remoteNotifiers(cfg, log)
			if len(notifiers) == 0 {
				return fmt.Errorf("no notification target configured (set MENTIONWATCH_FEISHU_* or MENTIONWATCH_SLACK_WEBHOOK_URL)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			err = data.NewMultiNotifier(log, notifiers...).Notify(ctx, repo.Notification{
				Title:     title,
				Body:      body,
				TargetURL: link,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "notification sent to %d target(s)\n", len(notifiers))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "New Mention in Slack", "Notification title")
	cmd.Flags().StringVar(&body, "body", "This is a test notification from mentionwatch.", "Notification body")
	cmd.Flags().StringVar(&link, "link", "https://app.slack.com/client", "Link attached to the notification")
	return cmd
}
