package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
	"github.com/mentionwatch/mentionwatch/internal/biz/usecase"
	"github.com/mentionwatch/mentionwatch/internal/data"
	"github.com/mentionwatch/mentionwatch/internal/dom"
	"github.com/mentionwatch/mentionwatch/internal/messenger"
	"github.com/mentionwatch/mentionwatch/internal/metrics"
)

const slackChannelURL = "https://app.slack.com/client/T123/C456"

// Mock implementations

type fakeShim struct {
	mu     sync.Mutex
	frames []messenger.Frame
}

func (s *fakeShim) WriteFrame(frameType string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, messenger.Frame{Type: frameType, Data: b})
	return nil
}

func (s *fakeShim) sent() []messenger.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messenger.Frame{}, s.frames...)
}

type fakePopup struct {
	mu    sync.Mutex
	kinds []string
}

func (p *fakePopup) Broadcast(kind string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
}

func (p *fakePopup) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.kinds...)
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []repo.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, msg repo.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, msg)
	return nil
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) sent() []repo.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]repo.Notification{}, n.got...)
}

type fakeSuggester struct {
	replies []string
}

func (s *fakeSuggester) Suggest(context.Context, string, string) ([]string, error) {
	return s.replies, nil
}

func (s *fakeSuggester) Name() string { return "fake" }

type harness struct {
	bg       *Background
	repos    *data.Repositories
	metrics  *metrics.Metrics
	popup    *fakePopup
	notifier *fakeNotifier
}

func newHarness(t *testing.T, defaults domain.Settings) *harness {
	t.Helper()
	repos, err := data.NewRepositories(filepath.Join(t.TempDir(), "mentionwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	h := &harness{
		repos:    repos,
		metrics:  metrics.New(),
		popup:    &fakePopup{},
		notifier: &fakeNotifier{},
	}
	suggester := &fakeSuggester{replies: []string{"On it", "Thanks!"}}
	newProvider := func(s domain.Settings) (repo.SuggestionRepo, error) {
		if s.NeedsAPIKey() && s.APIKey == "" {
			return nil, errors.New("api key required")
		}
		return suggester, nil
	}

	h.bg = NewBackground(BackgroundConfig{
		Defaults:       defaults,
		RequestTimeout: time.Second,
	}, usecase.NewEventUsecase(repos.Event, zerolog.Nop()), repos.State, h.notifier, h.popup, newProvider, h.metrics, zerolog.Nop())
	require.NoError(t, h.bg.Start(context.Background()))
	t.Cleanup(h.bg.Stop)
	return h
}

func (h *harness) openPage(t *testing.T, tab string) (*PageAgent, *fakeShim) {
	t.Helper()
	shim := &fakeShim{}
	agent, err := h.bg.OpenPage(context.Background(), tab, shim,
		usecase.NewIdentityResolver(zerolog.Nop()),
		usecase.NewExtractor(usecase.DefaultExtractorConfig(), zerolog.Nop()),
		quietConfig(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = agent.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		h.bg.ClosePage(agent)
		cancel()
		<-done
	})
	return agent, shim
}

func call[T any](t *testing.T, h *harness, action string, payload any) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return Call[T](ctx, h.bg.Mailbox(), action, payload)
}

func (h *harness) events(t *testing.T) []*domain.Event {
	t.Helper()
	evs, err := call[[]*domain.Event](t, h, ActionListEvents, nil)
	require.NoError(t, err)
	return evs
}

func snapshotFrame(t *testing.T, rawURL, title, body string) messenger.Frame {
	t.Helper()
	b, err := json.Marshal(dom.RawSnapshot{
		URL:     rawURL,
		Title:   title,
		HTML:    "<html><body>" + body + "</body></html>",
		Visible: true,
	})
	require.NoError(t, err)
	return messenger.Frame{Type: FrameSnapshot, Data: b}
}

func futureTS(d time.Duration) string {
	return fmt.Sprintf("%d.000100", time.Now().Add(d).Unix())
}

func slackMessage(id, ts, text string) string {
	return fmt.Sprintf(`<div class="c-virtual_list__item" data-message-id="%s" data-ts="%s">
		<div class="c-message__body"><div class="p-rich_text_section">%s</div></div>
	</div>`, id, ts, text)
}

func admit(t *testing.T, h *harness, ev domain.Event) {
	t.Helper()
	out, err := call[map[string]bool](t, h, ActionMentionFound, ev)
	require.NoError(t, err)
	require.True(t, out["accepted"])
}

func TestPipeline_MentionDetectedNotifiedAndSuggested(t *testing.T) {
	h := newHarness(t, domain.Settings{NotificationsEnabled: true, SuggestionsEnabled: true})
	agent, _ := h.openPage(t, "tab-1")

	body := slackMessage("m1", futureTS(time.Hour), "hey @drew can you look?") +
		slackMessage("m2", futureTS(time.Hour), "lunch anyone?")
	require.True(t, agent.HandleFrame(snapshotFrame(t, slackChannelURL, "Drew Bomhof | Acme | Slack", body)))

	require.Eventually(t, func() bool {
		evs := h.events(t)
		return len(evs) == 1 && len(evs[0].SuggestedResponses) == 2
	}, 2*time.Second, 10*time.Millisecond)

	ev := h.events(t)[0]
	assert.Equal(t, "m1", ev.ID)
	assert.True(t, ev.IsDirectMention)
	assert.Equal(t, "C456", ev.ChannelID)
	assert.Equal(t, []string{"On it", "Thanks!"}, ev.SuggestedResponses)

	require.Eventually(t, func() bool { return len(h.notifier.sent()) == 1 }, time.Second, 10*time.Millisecond)
	n := h.notifier.sent()[0]
	assert.Equal(t, "New Mention in Slack", n.Title)
	assert.Equal(t, "hey @drew can you look?", n.Body)
	assert.Equal(t, "m1", n.EventID)

	status, err := call[IdentityStatus](t, h, ActionGetDetectedUsername, nil)
	require.NoError(t, err)
	assert.Equal(t, "Drew Bomhof", status.Identity.Name)
	assert.Contains(t, h.popup.seen(), PopupEventAdded)
	assert.Contains(t, h.popup.seen(), PopupEventUpdated)

	// same message seen again by a manual pass is a duplicate
	res, err := call[CheckResult](t, h, ActionCheckMentionsManually, CheckRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tabs)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Duplicates) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.events(t), 1)
	assert.Len(t, h.notifier.sent(), 1)
}

func TestPipeline_PassLargerThanInboxKeepsEveryEvent(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	agent, _ := h.openPage(t, "tab-1")

	const n = 400
	base := time.Now().Add(-time.Hour).Unix()
	var body strings.Builder
	for i := 0; i < n; i++ {
		body.WriteString(slackMessage(fmt.Sprintf("dm-%03d", i), fmt.Sprintf("%d.%06d", base, i), "ping"))
	}
	require.True(t, agent.HandleFrame(snapshotFrame(t, "https://app.slack.com/client/T123/D456", "Slack", body.String())))

	stored := func() int {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		evs, err := Call[[]*domain.Event](ctx, h.bg.Mailbox(), ActionListEvents, nil)
		if err != nil {
			return -1
		}
		count := 0
		for _, ev := range evs {
			if strings.HasPrefix(ev.ID, "dm-") {
				count++
			}
		}
		return count
	}
	require.Eventually(t, func() bool { return stored() == n }, 15*time.Second, 50*time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(h.metrics.TransportDrops.WithLabelValues(ActionMentionFound)))
}

func TestPipeline_NotificationsAndSuggestionsOff(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	admit(t, h, domain.Event{ID: "m1", Text: "ping @drew", ThreadID: "1.1", ChannelID: "C1", IsDirectMention: true})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.notifier.sent())
	assert.Empty(t, h.events(t)[0].SuggestedResponses)
}

func TestBackground_NotificationTitles(t *testing.T) {
	assert.Equal(t, "New Mention in Slack", notificationTitle(domain.Event{IsDirectMention: true, IsDirectMessage: true}))
	assert.Equal(t, "New Direct Message", notificationTitle(domain.Event{IsDirectMessage: true}))
	assert.Equal(t, "Unread Slack Activity", notificationTitle(domain.Event{}))
}

func TestBackground_DuplicateRejected(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	ev := domain.Event{ID: "m1", Text: "first", ThreadID: "1.1", ChannelID: "C1", IsDirectMention: true}
	admit(t, h, ev)

	ev.Text = "second"
	out, err := call[map[string]bool](t, h, ActionMentionFound, ev)
	require.NoError(t, err)
	assert.False(t, out["accepted"])
	assert.Equal(t, "first", h.events(t)[0].Text)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Duplicates))
}

func TestBackground_SendReplyResolvesThread(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	_, shim := h.openPage(t, "tab-1")

	admit(t, h, domain.Event{ID: "a", Text: "q1", ThreadID: "T1", ChannelID: "C456", IsDirectMention: true})
	admit(t, h, domain.Event{ID: "b", Text: "q2", ThreadID: "T1", ChannelID: "C456", IsDirectMention: true})
	admit(t, h, domain.Event{ID: "c", Text: "other", ThreadID: "T2", ChannelID: "C456", IsDirectMention: true})

	res, err := call[ReplyResult](t, h, ActionSendReply, ReplyRequest{EventID: "a", Text: "on it"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Removed)
	assert.Equal(t, "tab-1", res.TabID)

	frames := shim.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameTypeReply, frames[0].Type)
	assert.JSONEq(t, `{"threadId":"T1","text":"on it"}`, string(frames[0].Data))

	evs := h.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, "c", evs[0].ID)
}

func TestBackground_SendReplyWithoutThreadRemovesOnlyThatEvent(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	_, shim := h.openPage(t, "tab-1")

	admit(t, h, domain.Event{ID: "dm1", Text: "got a sec?", ChannelID: "D456", IsDirectMessage: true})
	admit(t, h, domain.Event{ID: "dm2", Text: "also this", ChannelID: "D456", IsDirectMessage: true})

	res, err := call[ReplyResult](t, h, ActionSendReply, ReplyRequest{EventID: "dm1", Text: "sure"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Removed)

	frames := shim.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameTypeReply, frames[0].Type)
	assert.JSONEq(t, `{"text":"sure"}`, string(frames[0].Data))

	evs := h.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, "dm2", evs[0].ID)

	_, err = call[ReplyResult](t, h, ActionSendReply, ReplyRequest{Text: "hello?"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestBackground_SendReplyErrors(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	admit(t, h, domain.Event{ID: "a", Text: "q1", ThreadID: "T1", ChannelID: "C456", IsDirectMention: true})

	_, err := call[ReplyResult](t, h, ActionSendReply, ReplyRequest{EventID: "a", Text: "hi"})
	assert.ErrorIs(t, err, ErrNoPage)
	assert.Len(t, h.events(t), 1, "nothing removed when the reply could not be sent")

	_, err = call[ReplyResult](t, h, ActionSendReply, ReplyRequest{EventID: "a", Text: "  "})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.EqualError(t, err, "invalid request: reply text is empty")

	_, err = call[ReplyResult](t, h, ActionSendReply, ReplyRequest{EventID: "missing", Text: "hi"})
	assert.ErrorIs(t, err, usecase.ErrEventNotFound)
}

func TestBackground_OpenEvent(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	_, shim := h.openPage(t, "tab-1")
	admit(t, h, domain.Event{ID: "a", Text: "q1", ThreadID: "T1", ChannelID: "C456", SourceURL: slackChannelURL + "#T1", IsDirectMention: true})

	res, err := call[OpenResult](t, h, ActionOpenEvent, EventRef{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, slackChannelURL+"#T1", res.SourceURL)
	assert.True(t, res.Navigated)
	assert.Empty(t, h.events(t))

	frames := shim.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameNavigate, frames[0].Type)

	_, err = call[OpenResult](t, h, ActionOpenEvent, EventRef{ID: "a"})
	assert.EqualError(t, err, usecase.ErrEventNotFound.Error())
}

func TestBackground_RemoveEvent(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	admit(t, h, domain.Event{ID: "a", Text: "q1", ChannelID: "C1"})

	_, err := call[any](t, h, ActionRemoveEvent, EventRef{ID: "a"})
	require.NoError(t, err)
	assert.Empty(t, h.events(t))
	assert.Contains(t, h.popup.seen(), PopupEventsRemoved)

	_, err = call[any](t, h, ActionRemoveEvent, EventRef{ID: "a"})
	assert.Error(t, err)
}

func TestBackground_CheckMentionsWithoutPages(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	_, err := call[CheckResult](t, h, ActionCheckMentionsManually, CheckRequest{Manual: true})
	assert.EqualError(t, err, ErrNoPage.Error())
}

func TestBackground_Settings(t *testing.T) {
	h := newHarness(t, domain.Settings{NotificationsEnabled: true})

	got, err := call[domain.Settings](t, h, ActionGetSettings, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStatic, got.Provider)
	assert.True(t, got.NotificationsEnabled)

	got, err = call[domain.Settings](t, h, ActionUpdateSettings, domain.Settings{Provider: "OpenAI", APIKey: "sk-secret", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderOpenAI, got.Provider)
	assert.Equal(t, domain.RedactedSecret, got.APIKey)

	// echoing the redacted key back keeps the stored one
	_, err = call[domain.Settings](t, h, ActionUpdateSettings, domain.Settings{Provider: "openai", APIKey: domain.RedactedSecret, Model: "gpt-4o"})
	require.NoError(t, err)
	stored, ok, err := h.repos.State.GetSettings(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sk-secret", stored.APIKey)
	assert.Equal(t, "gpt-4o", stored.Model)

	_, err = call[domain.Settings](t, h, ActionUpdateSettings, domain.Settings{Provider: "gemini"})
	assert.Error(t, err)
	_, err = call[domain.Settings](t, h, ActionUpdateSettings, domain.Settings{Provider: "claude"})
	assert.Error(t, err, "provider without key is rejected")

	stored, _, err = h.repos.State.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderOpenAI, stored.Provider, "rejected update leaves settings alone")
}

func TestBackground_ManualUsername(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	agent, _ := h.openPage(t, "tab-1")

	status, err := call[IdentityStatus](t, h, ActionSetManualUsername, UsernameRequest{Name: " drew "})
	require.NoError(t, err)
	assert.Equal(t, "drew", status.Identity.Name)
	assert.Equal(t, domain.IdentitySourceManual, status.Identity.Source)
	assert.Equal(t, "drew", status.ManualUserName)

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		st, err := Call[IdentityStatus](ctx, agent.Mailbox(), ActionGetDetectedUsername, nil)
		return err == nil && st.Identity.Name == "drew"
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := h.repos.State.GetIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "drew", stored.Name)
}

func TestBackground_RestoresStateOnStart(t *testing.T) {
	repos, err := data.NewRepositories(filepath.Join(t.TempDir(), "mentionwatch.db"))
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	cursor := domain.ScanCursor{LastCheckedAt: time.UnixMilli(1700000000000)}
	require.NoError(t, repos.State.SaveCursor(ctx, cursor))
	require.NoError(t, repos.State.SaveSettings(ctx, domain.Settings{Provider: domain.ProviderStatic, ManualUserName: "drew"}))

	bg := NewBackground(BackgroundConfig{}, usecase.NewEventUsecase(repos.Event, zerolog.Nop()), repos.State,
		&fakeNotifier{}, &fakePopup{}, func(domain.Settings) (repo.SuggestionRepo, error) { return nil, nil },
		metrics.New(), zerolog.Nop())
	require.NoError(t, bg.Start(ctx))
	defer bg.Stop()

	init, err := Call[PageInit](ctx, bg.Mailbox(), actionPageInit, nil)
	require.NoError(t, err)
	assert.True(t, cursor.LastCheckedAt.Equal(init.Cursor.LastCheckedAt))
	assert.Equal(t, "drew", init.ManualUserName)
}

func TestBackground_CursorOnlyMovesForward(t *testing.T) {
	h := newHarness(t, domain.Settings{})
	later := time.UnixMilli(1700000100000)

	_, err := call[any](t, h, ActionScanCompleted, ScanReport{TabID: "x", Cursor: domain.ScanCursor{LastCheckedAt: later}})
	require.NoError(t, err)
	_, err = call[any](t, h, ActionScanCompleted, ScanReport{TabID: "x", Cursor: domain.ScanCursor{LastCheckedAt: later.Add(-time.Minute)}})
	require.NoError(t, err)

	got, err := h.repos.State.GetCursor(context.Background())
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastCheckedAt))
}
