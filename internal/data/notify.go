package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
	"github.com/mentionwatch/mentionwatch/internal/infra/feishu"
)

// logNotifier writes notifications to the log
type logNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(log zerolog.Logger) repo.Notifier {
	return &logNotifier{log: log}
}

func (n *logNotifier) Notify(_ context.Context, msg repo.Notification) error {
	n.log.Info().
		Str("title", msg.Title).
		Str("body", msg.Body).
		Str("url", msg.TargetURL).
		Str("event_id", msg.EventID).
		Msg("notification")
	return nil
}

func (n *logNotifier) Name() string { return "log" }

// feishuNotifier posts notifications to a Feishu chat
type feishuNotifier struct {
	client *feishu.Client
}

// NewFeishuNotifier creates a Feishu notifier
func NewFeishuNotifier(client *feishu.Client) repo.Notifier {
	return &feishuNotifier{client: client}
}

func (n *feishuNotifier) Notify(ctx context.Context, msg repo.Notification) error {
	return n.client.SendPost(ctx, msg.Title, msg.Body, msg.TargetURL)
}

func (n *feishuNotifier) Name() string { return "feishu" }

// slackWebhookNotifier posts to a Slack incoming webhook
type slackWebhookNotifier struct {
	url string
}

// NewSlackWebhookNotifier creates a Slack incoming-webhook notifier
func NewSlackWebhookNotifier(url string) repo.Notifier {
	return &slackWebhookNotifier{url: url}
}

func (n *slackWebhookNotifier) Notify(ctx context.Context, msg repo.Notification) error {
	return slack.PostWebhookContext(ctx, n.url, &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body),
		Attachments: []slack.Attachment{{
			Fallback:  msg.Body,
			TitleLink: msg.TargetURL,
			Title:     "Open in Slack",
		}},
	})
}

func (n *slackWebhookNotifier) Name() string { return "slack-webhook" }

// Broadcaster pushes a payload to every connected popup
type Broadcaster interface {
	Broadcast(kind string, payload any)
}

// popupNotifier forwards notifications to popup subscribers
type popupNotifier struct {
	hub Broadcaster
}

// NewPopupNotifier creates a notifier that broadcasts to popups
func NewPopupNotifier(hub Broadcaster) repo.Notifier {
	return &popupNotifier{hub: hub}
}

func (n *popupNotifier) Notify(_ context.Context, msg repo.Notification) error {
	n.hub.Broadcast("notification", msg)
	return nil
}

func (n *popupNotifier) Name() string { return "popup" }

// multiNotifier fans a notification out to every backend. Failures are
// logged and joined; one failing backend does not stop the others.
type multiNotifier struct {
	notifiers []repo.Notifier
	log       zerolog.Logger
}

// NewMultiNotifier combines notifiers
func NewMultiNotifier(log zerolog.Logger, notifiers ...repo.Notifier) repo.Notifier {
	return &multiNotifier{notifiers: notifiers, log: log}
}

func (m *multiNotifier) Notify(ctx context.Context, msg repo.Notification) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			m.log.Warn().Err(err).Str("notifier", n.Name()).Msg("notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *multiNotifier) Name() string { return "multi" }
