package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
	"github.com/mentionwatch/mentionwatch/internal/biz/usecase"
	"github.com/mentionwatch/mentionwatch/internal/messenger"
	"github.com/mentionwatch/mentionwatch/internal/metrics"
)

const (
	actionPageInit   = "pageInit"
	notifyBodyLength = 100
)

// ErrNoPage means no Slack tab is connected
var ErrNoPage = errors.New("no Slack tab connected")

// Broadcaster pushes frames to popup subscribers
type Broadcaster interface {
	Broadcast(kind string, payload any)
}

// ProviderFactory builds the suggestion provider for a settings value
type ProviderFactory func(domain.Settings) (repo.SuggestionRepo, error)

// BackgroundConfig configures the background context
type BackgroundConfig struct {
	// Defaults are used when no settings were persisted yet
	Defaults       domain.Settings
	RequestTimeout time.Duration
	SuggestTimeout time.Duration
	NotifyTimeout  time.Duration
}

// PageInit is handed to a new page agent
type PageInit struct {
	Cursor         domain.ScanCursor `json:"cursor"`
	ManualUserName string            `json:"manualUserName,omitempty"`
}

// EventRemoval is broadcast when events leave the store
type EventRemoval struct {
	ID       string `json:"id,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
	Count    int64  `json:"count"`
}

// Background is the single owner of the event store, settings and the last
// known identity. All of it is touched only from its mailbox goroutine;
// everyone else talks to it through messages.
type Background struct {
	config      BackgroundConfig
	events      *usecase.EventUsecase
	state       repo.StateRepo
	notifier    repo.Notifier
	popup       Broadcaster
	newProvider ProviderFactory
	metrics     *metrics.Metrics
	log         zerolog.Logger

	pages   *PageRegistry
	mailbox *messenger.Mailbox

	settings domain.Settings
	identity domain.Identity
	cursor   domain.ScanCursor
	suggest  *usecase.SuggestUsecase

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBackground creates the background context
func NewBackground(
	config BackgroundConfig,
	events *usecase.EventUsecase,
	state repo.StateRepo,
	notifier repo.Notifier,
	popup Broadcaster,
	newProvider ProviderFactory,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Background {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 10 * time.Second
	}
	b := &Background{
		config:      config,
		events:      events,
		state:       state,
		notifier:    notifier,
		popup:       popup,
		newProvider: newProvider,
		metrics:     m,
		log:         log,
		pages:       NewPageRegistry(),
		identity:    domain.UnknownIdentity(),
	}

	router := messenger.NewRouter(log)
	router.Handle(actionPageInit, b.handlePageInit)
	router.Handle(ActionMentionFound, b.handleMentionFound)
	router.Handle(ActionIdentityDetected, b.handleIdentityDetected)
	router.Handle(ActionScanCompleted, b.handleScanCompleted)
	router.Handle(ActionSuggestionsReady, b.handleSuggestionsReady)
	router.Handle(ActionCheckMentionsManually, b.handleCheckMentions)
	router.Handle(ActionRemoveEvent, b.handleRemoveEvent)
	router.Handle(ActionOpenEvent, b.handleOpenEvent)
	router.Handle(ActionSendReply, b.handleSendReply)
	router.Handle(ActionListEvents, b.handleListEvents)
	router.Handle(ActionGetDetectedUsername, b.handleGetUsername)
	router.Handle(ActionSetManualUsername, b.handleSetUsername)
	router.Handle(ActionGetSettings, b.handleGetSettings)
	router.Handle(ActionUpdateSettings, b.handleUpdateSettings)
	b.mailbox = messenger.NewMailbox("background", 256, router, log)
	return b
}

// Mailbox returns the background inbox
func (b *Background) Mailbox() *messenger.Mailbox { return b.mailbox }

// Pages returns the page registry
func (b *Background) Pages() *PageRegistry { return b.pages }

// Start loads persisted state and starts the message loop
func (b *Background) Start(ctx context.Context) error {
	// 1. Settings
	settings, ok, err := b.state.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if !ok {
		settings = b.config.Defaults
	}
	if settings, err = settings.Normalize(); err != nil {
		b.log.Warn().Err(err).Msg("stored settings invalid, using static provider")
		settings.Provider = domain.ProviderStatic
	}
	b.settings = settings

	// 2. Cursor and identity
	if b.cursor, err = b.state.GetCursor(ctx); err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}
	if b.identity, err = b.state.GetIdentity(ctx); err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	// 3. Suggestion provider
	provider, err := b.newProvider(b.settings)
	if err != nil {
		b.log.Warn().Err(err).Str("provider", string(b.settings.Provider)).Msg("provider unavailable, using default replies")
		provider = nil
	}
	b.suggest = usecase.NewSuggestUsecase(provider, b.config.SuggestTimeout, b.log)

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.mailbox.Run(b.ctx)
	}()

	b.log.Info().
		Str("provider", string(b.settings.Provider)).
		Str("identity", b.identity.Name).
		Time("cursor", b.cursor.LastCheckedAt).
		Msg("background started")
	return nil
}

// Stop stops the loop and waits for in-flight notifications and suggestions
func (b *Background) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.mailbox.Close()
	b.wg.Wait()
	b.log.Info().Msg("background stopped")
}

// Call sends a request to mb and decodes the response payload
func Call[T any](ctx context.Context, mb *messenger.Mailbox, action string, payload any) (T, error) {
	resp, err := mb.Request(ctx, action, payload)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := messenger.DecodeResponse[T](resp)
	return out, restoreError(err)
}

// OpenPage creates a page agent for tabID wired to this background and
// registers it. The caller runs it and calls ClosePage when the tab goes.
func (b *Background) OpenPage(
	ctx context.Context,
	tabID string,
	shim ShimWriter,
	resolver *usecase.IdentityResolver,
	extractor *usecase.Extractor,
	sched SchedulerConfig,
) (*PageAgent, error) {
	init, err := Call[PageInit](ctx, b.mailbox, actionPageInit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init page %s: %w", tabID, err)
	}

	emitter := messenger.NewEmitter(b.log, b.metrics.Drop)
	emitter.Attach(b.mailbox)

	agent := NewPageAgent(PageConfig{
		TabID:          tabID,
		Cursor:         init.Cursor,
		ManualUserName: init.ManualUserName,
		Scheduler:      sched,
	}, resolver, extractor, emitter, shim, b.metrics, b.log)
	b.pages.Add(tabID, agent.Mailbox())
	b.log.Info().Str("tab", tabID).Msg("page attached")
	return agent, nil
}

// ClosePage unregisters a page agent and stops it
func (b *Background) ClosePage(agent *PageAgent) {
	b.pages.Remove(agent.TabID(), agent.Mailbox())
	agent.Stop()
	b.log.Info().Str("tab", agent.TabID()).Msg("page detached")
}

func (b *Background) handlePageInit(context.Context, messenger.Envelope) (any, error) {
	return PageInit{Cursor: b.cursor, ManualUserName: b.settings.ManualUserName}, nil
}

func (b *Background) handleMentionFound(ctx context.Context, env messenger.Envelope) (any, error) {
	ev, err := messenger.Decode[domain.Event](env)
	if err != nil {
		return nil, err
	}

	accepted, err := b.events.Admit(ctx, &ev)
	if err != nil {
		return nil, err
	}
	if !accepted {
		b.metrics.Duplicates.Inc()
		b.log.Debug().Str("id", ev.ID).Msg("duplicate event ignored")
		return map[string]bool{"accepted": false}, nil
	}

	kind := ev.Kind()
	b.metrics.EventsAdmitted.WithLabelValues(kind).Inc()
	b.log.Info().
		Str("id", ev.ID).
		Str("kind", kind).
		Str("channel", ev.ChannelID).
		Msg("new event")
	b.popup.Broadcast(PopupEventAdded, ev)

	if b.settings.NotificationsEnabled {
		b.notify(ev)
	}
	if ev.IsDirectMention && b.settings.SuggestionsEnabled {
		b.suggestAsync(ev)
	}
	return map[string]bool{"accepted": true}, nil
}

func notificationTitle(ev domain.Event) string {
	switch {
	case ev.IsDirectMention:
		return "New Mention in Slack"
	case ev.IsDirectMessage:
		return "New Direct Message"
	default:
		return "Unread Slack Activity"
	}
}

func (b *Background) notify(ev domain.Event) {
	msg := repo.Notification{
		Title:     notificationTitle(ev),
		Body:      domain.Truncate(ev.Text, notifyBodyLength),
		TargetURL: ev.SourceURL,
		EventID:   ev.ID,
	}
	notifier := b.notifier

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, b.config.NotifyTimeout)
		defer cancel()
		if err := notifier.Notify(ctx, msg); err != nil {
			b.log.Warn().Err(err).Str("id", msg.EventID).Msg("notification failed")
		}
	}()
}

// suggestAsync asks the provider off the loop; the result comes back as a
// suggestionsReady message
func (b *Background) suggestAsync(ev domain.Event) {
	uc := b.suggest

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res := uc.Suggest(b.ctx, ev.Text, ev.ChannelName)
		if res.Fallback {
			b.metrics.SuggestionFallbacks.WithLabelValues(res.Provider).Inc()
		}

		env, err := messenger.NewEnvelope(ActionSuggestionsReady, SuggestionsReport{
			EventID:  ev.ID,
			Replies:  res.Replies,
			Fallback: res.Fallback,
			Provider: res.Provider,
		})
		if err != nil || !b.mailbox.Deliver(b.ctx, env) {
			b.log.Warn().Str("id", ev.ID).Msg("suggestions dropped")
			b.metrics.Drop(ActionSuggestionsReady)
		}
	}()
}

func (b *Background) handleSuggestionsReady(ctx context.Context, env messenger.Envelope) (any, error) {
	r, err := messenger.Decode[SuggestionsReport](env)
	if err != nil {
		return nil, err
	}
	ok, err := b.events.SetSuggestions(ctx, r.EventID, r.Replies)
	if err != nil {
		return nil, err
	}
	if !ok {
		b.log.Debug().Str("id", r.EventID).Msg("event gone before suggestions arrived")
		return nil, nil
	}

	ev, err := b.events.Get(ctx, r.EventID)
	if err == nil {
		b.popup.Broadcast(PopupEventUpdated, ev)
	}
	return nil, nil
}

func (b *Background) handleIdentityDetected(ctx context.Context, env messenger.Envelope) (any, error) {
	r, err := messenger.Decode[IdentityReport](env)
	if err != nil {
		return nil, err
	}
	if r.Identity.IsUnknown() || r.Identity.Equal(b.identity) {
		return nil, nil
	}

	b.identity = r.Identity
	if err := b.state.SaveIdentity(ctx, b.identity); err != nil {
		return nil, err
	}
	b.log.Info().
		Str("tab", r.TabID).
		Str("name", r.Identity.Name).
		Str("source", r.Identity.Source).
		Msg("identity detected")
	b.popup.Broadcast(PopupIdentity, b.identity)
	return nil, nil
}

func (b *Background) handleScanCompleted(ctx context.Context, env messenger.Envelope) (any, error) {
	r, err := messenger.Decode[ScanReport](env)
	if err != nil {
		return nil, err
	}
	b.pages.SetScanned(r.TabID, r.ChannelID, r.LoginPage)

	if !r.Cursor.LastCheckedAt.After(b.cursor.LastCheckedAt) {
		return nil, nil
	}
	b.cursor = r.Cursor
	return nil, b.state.SaveCursor(ctx, b.cursor)
}

func (b *Background) handleCheckMentions(ctx context.Context, env messenger.Envelope) (any, error) {
	req, err := messenger.Decode[CheckRequest](env)
	if err != nil {
		return nil, err
	}

	tabs := b.pages.Tabs()
	if req.TabID != "" {
		tabs = []string{req.TabID}
	}
	if len(tabs) == 0 {
		return nil, ErrNoPage
	}

	res := CheckResult{Tabs: len(tabs)}
	for _, tab := range tabs {
		mb, ok := b.pages.Get(tab)
		if !ok {
			res.Skipped++
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
		out, err := Call[CheckResult](rctx, mb, ActionCheckMentions, CheckRequest{Manual: true})
		cancel()
		if err != nil {
			b.log.Warn().Err(err).Str("tab", tab).Msg("page did not take scan request")
			res.Skipped++
			continue
		}
		res.Queued += out.Queued
	}
	return res, nil
}

func (b *Background) handleRemoveEvent(ctx context.Context, env messenger.Envelope) (any, error) {
	ref, err := messenger.Decode[EventRef](env)
	if err != nil {
		return nil, err
	}
	if err := b.events.Remove(ctx, ref.ID); err != nil {
		return nil, err
	}
	b.popup.Broadcast(PopupEventsRemoved, EventRemoval{ID: ref.ID, Count: 1})
	return nil, nil
}

func (b *Background) handleOpenEvent(ctx context.Context, env messenger.Envelope) (any, error) {
	ref, err := messenger.Decode[EventRef](env)
	if err != nil {
		return nil, err
	}
	ev, err := b.events.Get(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if err := b.events.Remove(ctx, ev.ID); err != nil {
		return nil, err
	}
	b.popup.Broadcast(PopupEventsRemoved, EventRemoval{ID: ev.ID, Count: 1})

	res := OpenResult{SourceURL: ev.SourceURL}
	if tab, mb, ok := b.pages.Pick(ev.ChannelID); ok {
		rctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
		_, err := Call[struct{}](rctx, mb, ActionOpenURL, NavigateTo{URL: ev.SourceURL})
		cancel()
		if err != nil {
			b.log.Warn().Err(err).Str("tab", tab).Msg("page could not navigate")
		}
		res.Navigated = err == nil
	}
	return res, nil
}

func (b *Background) handleSendReply(ctx context.Context, env messenger.Envelope) (any, error) {
	req, err := messenger.Decode[ReplyRequest](env)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: reply text is empty", ErrInvalid)
	}

	var ev *domain.Event
	if req.EventID != "" {
		if ev, err = b.events.Get(ctx, req.EventID); err != nil {
			return nil, err
		}
	}
	threadID, channelID := req.ThreadID, ""
	if ev != nil {
		if threadID == "" {
			threadID = ev.ThreadID
		}
		channelID = ev.ChannelID
	}
	if ev == nil && threadID == "" {
		return nil, fmt.Errorf("%w: event id or thread id is required", ErrInvalid)
	}

	tab, mb, ok := b.pages.Pick(channelID)
	if !ok {
		return nil, ErrNoPage
	}
	rctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	_, err = Call[struct{}](rctx, mb, ActionSendResponse, TypeReply{ThreadID: threadID, Text: req.Text})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("send reply via tab %s: %w", tab, err)
	}

	var removed int64
	if ev != nil {
		removed, err = b.events.Resolve(ctx, ev)
	} else {
		removed, err = b.events.RemoveThread(ctx, threadID)
	}
	if err != nil {
		return nil, err
	}
	removal := EventRemoval{ThreadID: threadID, Count: removed}
	if threadID == "" {
		removal.ID = ev.ID
	}
	b.popup.Broadcast(PopupEventsRemoved, removal)
	return ReplyResult{TabID: tab, Removed: removed}, nil
}

func (b *Background) handleListEvents(ctx context.Context, _ messenger.Envelope) (any, error) {
	return b.events.List(ctx)
}

func (b *Background) handleGetUsername(context.Context, messenger.Envelope) (any, error) {
	return IdentityStatus{Identity: b.identity, ManualUserName: b.settings.ManualUserName, LoginPage: b.pages.LoginPage()}, nil
}

func (b *Background) handleSetUsername(ctx context.Context, env messenger.Envelope) (any, error) {
	req, err := messenger.Decode[UsernameRequest](env)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)

	b.settings.ManualUserName = name
	if err := b.state.SaveSettings(ctx, b.settings); err != nil {
		return nil, err
	}
	if err := b.applyManualName(ctx, name); err != nil {
		return nil, err
	}
	b.forwardManualName(name)
	return IdentityStatus{Identity: b.identity, ManualUserName: name, LoginPage: b.pages.LoginPage()}, nil
}

// applyManualName fills the sentinel, or replaces an earlier manual name
func (b *Background) applyManualName(ctx context.Context, name string) error {
	id := b.identity
	if id.Source == domain.IdentitySourceManual {
		id = domain.UnknownIdentity()
	}
	id = usecase.WithManualName(id, name)
	if id.Equal(b.identity) {
		return nil
	}
	b.identity = id
	if err := b.state.SaveIdentity(ctx, id); err != nil {
		return err
	}
	b.popup.Broadcast(PopupIdentity, id)
	return nil
}

func (b *Background) forwardManualName(name string) {
	env, err := messenger.NewEnvelope(ActionSetManualUsername, UsernameRequest{Name: name})
	if err != nil {
		return
	}
	for _, tab := range b.pages.Tabs() {
		if mb, ok := b.pages.Get(tab); ok && !mb.Post(env) {
			b.log.Debug().Str("tab", tab).Msg("page missed manual name update")
		}
	}
}

func (b *Background) handleGetSettings(context.Context, messenger.Envelope) (any, error) {
	return b.settings.Redacted(), nil
}

func (b *Background) handleUpdateSettings(ctx context.Context, env messenger.Envelope) (any, error) {
	in, err := messenger.Decode[domain.Settings](env)
	if err != nil {
		return nil, err
	}
	if in.APIKey == domain.RedactedSecret {
		in.APIKey = b.settings.APIKey
	}
	next, err := in.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	provider, err := b.newProvider(next)
	if err != nil {
		return nil, fmt.Errorf("%w: provider settings: %v", ErrInvalid, err)
	}
	if err := b.state.SaveSettings(ctx, next); err != nil {
		return nil, err
	}

	prev := b.settings
	b.settings = next
	b.suggest = usecase.NewSuggestUsecase(provider, b.config.SuggestTimeout, b.log)
	if next.ManualUserName != prev.ManualUserName {
		if err := b.applyManualName(ctx, next.ManualUserName); err != nil {
			return nil, err
		}
		b.forwardManualName(next.ManualUserName)
	}

	b.log.Info().
		Str("provider", string(next.Provider)).
		Bool("notifications", next.NotificationsEnabled).
		Bool("suggestions", next.SuggestionsEnabled).
		Msg("settings updated")
	return next.Redacted(), nil
}
