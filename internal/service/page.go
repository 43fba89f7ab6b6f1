package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/usecase"
	"github.com/mentionwatch/mentionwatch/internal/dom"
	"github.com/mentionwatch/mentionwatch/internal/messenger"
	"github.com/mentionwatch/mentionwatch/internal/metrics"
)

const actionScan = "scan"

// ErrNoShim means the page shim is not connected
var ErrNoShim = errors.New("page shim not connected")

// ShimWriter writes frames to the page shim
type ShimWriter interface {
	WriteFrame(frameType string, data any) error
}

// PageConfig configures one page agent
type PageConfig struct {
	TabID          string
	Cursor         domain.ScanCursor
	ManualUserName string
	Scheduler      SchedulerConfig
}

// PageAgent is the per-tab context. It keeps the latest snapshot and the
// tab's ScanContext; both are only touched from its mailbox goroutine.
type PageAgent struct {
	config    PageConfig
	resolver  *usecase.IdentityResolver
	extractor *usecase.Extractor
	emitter   *messenger.Emitter
	shim      ShimWriter
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time

	mailbox   *messenger.Mailbox
	scheduler *ScanScheduler

	sc           *domain.ScanContext
	snap         *dom.Snapshot
	manualName   string
	awaitingPage bool
}

// NewPageAgent creates a page agent. Reports go out through emitter.
func NewPageAgent(
	config PageConfig,
	resolver *usecase.IdentityResolver,
	extractor *usecase.Extractor,
	emitter *messenger.Emitter,
	shim ShimWriter,
	m *metrics.Metrics,
	log zerolog.Logger,
) *PageAgent {
	log = log.With().Str("tab", config.TabID).Logger()
	a := &PageAgent{
		config:     config,
		resolver:   resolver,
		extractor:  extractor,
		emitter:    emitter,
		shim:       shim,
		metrics:    m,
		log:        log,
		now:        time.Now,
		sc:         domain.NewScanContext(config.Cursor),
		manualName: config.ManualUserName,
	}

	router := messenger.NewRouter(log)
	router.Handle(actionScan, a.handleScan)
	router.Handle(FrameSnapshot, a.handleSnapshot)
	router.Handle(FrameVisibility, a.handleVisibility)
	router.Handle(FrameNavigated, a.handleNavigated)
	router.Handle(ActionCheckMentions, a.handleCheckMentions)
	router.Handle(ActionGetDetectedUsername, a.handleGetUsername)
	router.Handle(ActionSetManualUsername, a.handleSetUsername)
	router.Handle(ActionSendResponse, a.handleSendResponse)
	router.Handle(ActionOpenURL, a.handleOpenURL)
	router.Handle(ActionPageStatus, a.handleStatus)

	a.mailbox = messenger.NewMailbox("page:"+config.TabID, 32, router, log)
	a.scheduler = NewScanScheduler(config.Scheduler, a.requestScan, log)
	return a
}

// TabID returns the tab this agent serves
func (a *PageAgent) TabID() string { return a.config.TabID }

// Mailbox returns the agent inbox
func (a *PageAgent) Mailbox() *messenger.Mailbox { return a.mailbox }

// Run processes messages and scans until ctx is cancelled or the mailbox
// is closed
func (a *PageAgent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.mailbox.Run(ctx)
		close(done)
	}()

	if err := a.scheduler.Start(ctx); err != nil {
		a.mailbox.Close()
		<-done
		return err
	}
	a.metrics.PageAgents.Inc()
	defer a.metrics.PageAgents.Dec()

	<-done
	cancel()
	a.scheduler.Stop()
	return nil
}

// Stop closes the agent inbox; Run returns shortly after
func (a *PageAgent) Stop() {
	a.mailbox.Close()
}

// HandleFrame queues a frame from the shim. Unknown frame types are
// ignored.
func (a *PageAgent) HandleFrame(f messenger.Frame) bool {
	switch f.Type {
	case FrameSnapshot, FrameVisibility, FrameNavigated:
	default:
		a.log.Debug().Str("type", f.Type).Msg("ignoring shim frame")
		return false
	}
	if !a.mailbox.Post(messenger.Envelope{Action: f.Type, Payload: f.Data}) {
		a.log.Warn().Str("type", f.Type).Msg("page inbox full, frame dropped")
		return false
	}
	return true
}

// requestScan runs on the scheduler goroutine and blocks until the
// mailbox goroutine completed the pass
func (a *PageAgent) requestScan(ctx context.Context, t domain.Trigger) {
	resp, err := a.mailbox.Request(ctx, actionScan, t)
	if err == nil {
		err = resp.Err()
	}
	if err != nil && !errors.Is(err, messenger.ErrNoReceiver) {
		a.log.Warn().Err(err).Str("trigger", string(t)).Msg("scan request failed")
	}
}

func (a *PageAgent) handleScan(ctx context.Context, env messenger.Envelope) (any, error) {
	t, err := messenger.Decode[domain.Trigger](env)
	if err != nil {
		return nil, err
	}
	return a.scanPass(ctx, t), nil
}

// scanPass resolves the identity, extracts events from the latest snapshot,
// reports them and advances the cursor. The cursor stays put when a report
// could not be handed over, so the next pass extracts those messages again.
func (a *PageAgent) scanPass(ctx context.Context, t domain.Trigger) ScanReport {
	start := time.Now()
	report := ScanReport{TabID: a.config.TabID, Trigger: t, Cursor: a.sc.Cursor}
	a.metrics.Scans.WithLabelValues(string(t)).Inc()

	if a.snap == nil {
		a.log.Debug().Str("trigger", string(t)).Msg("no snapshot yet, skipping pass")
		return report
	}
	now := a.now()

	// 1. Identity
	id := usecase.WithManualName(a.resolver.Resolve(a.snap), a.manualName)
	if a.sc.UpdateIdentity(id, a.snap.RawURL) {
		a.emitter.Emit(ctx, ActionIdentityDetected, IdentityReport{TabID: a.config.TabID, URL: a.snap.RawURL, Identity: id})
	}

	// 2. Extraction
	opts := domain.ScanOptions{Now: now, Manual: t == domain.TriggerManual}
	events := a.extractor.Extract(a.snap, a.sc.Identity, a.sc.Cursor, opts)
	dropped := 0
	for _, ev := range events {
		a.metrics.EventsExtracted.WithLabelValues(ev.Kind()).Inc()
		if !a.emitter.Emit(ctx, ActionMentionFound, ev) {
			dropped++
		}
	}

	// 3. Cursor
	if dropped == 0 {
		a.sc.Complete(now)
	} else {
		a.log.Warn().Int("dropped", dropped).Msg("reports not delivered, cursor kept")
	}

	report.ChannelID = a.snap.LastSegment()
	report.LoginPage = a.snap.IsLoginPage()
	report.Events = len(events)
	report.Cursor = a.sc.Cursor
	report.Duration = time.Since(start)
	a.metrics.ScanDuration.Observe(report.Duration.Seconds())
	a.emitter.Emit(ctx, ActionScanCompleted, report)

	a.log.Debug().
		Str("trigger", string(t)).
		Int("events", len(events)).
		Dur("took", report.Duration).
		Msg("scan pass complete")
	return report
}

func (a *PageAgent) handleSnapshot(_ context.Context, env messenger.Envelope) (any, error) {
	raw, err := messenger.Decode[dom.RawSnapshot](env)
	if err != nil {
		return nil, err
	}
	snap, err := dom.Parse(raw)
	if err != nil {
		return nil, err
	}

	first := a.snap == nil
	if a.sc.Navigated(snap.RawURL) {
		a.awaitingPage = true
	}
	a.snap = snap

	switch {
	case first:
		a.awaitingPage = false
		a.scheduler.Trigger(domain.TriggerStartup)
	case a.awaitingPage:
		a.awaitingPage = false
		a.scheduler.Trigger(domain.TriggerNavigation)
	}
	return nil, nil
}

func (a *PageAgent) handleVisibility(_ context.Context, env messenger.Envelope) (any, error) {
	v, err := messenger.Decode[VisibilityChange](env)
	if err != nil {
		return nil, err
	}
	if a.snap != nil {
		a.snap.Visible = v.Visible
	}
	if v.Visible {
		a.scheduler.Trigger(domain.TriggerVisibility)
	}
	return nil, nil
}

// handleNavigated drops the identity; the scan waits for the next snapshot
// so it runs against the new page
func (a *PageAgent) handleNavigated(_ context.Context, env messenger.Envelope) (any, error) {
	n, err := messenger.Decode[Navigation](env)
	if err != nil {
		return nil, err
	}
	if a.sc.Navigated(n.URL) {
		a.log.Debug().Str("url", n.URL).Msg("navigated, identity dropped")
	}
	a.awaitingPage = true
	return nil, nil
}

func (a *PageAgent) handleCheckMentions(_ context.Context, env messenger.Envelope) (any, error) {
	req, err := messenger.Decode[CheckRequest](env)
	if err != nil {
		return nil, err
	}
	t := domain.TriggerTimer
	if req.Manual {
		t = domain.TriggerManual
	}
	res := CheckResult{Tabs: 1}
	if a.scheduler.Trigger(t) {
		res.Queued = 1
	}
	return res, nil
}

func (a *PageAgent) handleGetUsername(context.Context, messenger.Envelope) (any, error) {
	return a.identityStatus(), nil
}

func (a *PageAgent) handleSetUsername(ctx context.Context, env messenger.Envelope) (any, error) {
	req, err := messenger.Decode[UsernameRequest](env)
	if err != nil {
		return nil, err
	}
	a.manualName = strings.TrimSpace(req.Name)

	id := a.sc.Identity
	if id.Source == domain.IdentitySourceManual {
		id = domain.UnknownIdentity()
	}
	id = usecase.WithManualName(id, a.manualName)
	if a.sc.UpdateIdentity(id, a.currentURL()) {
		a.emitter.Emit(ctx, ActionIdentityDetected, IdentityReport{TabID: a.config.TabID, URL: a.currentURL(), Identity: id})
	}
	return a.identityStatus(), nil
}

func (a *PageAgent) identityStatus() IdentityStatus {
	return IdentityStatus{Identity: a.sc.Identity, ManualUserName: a.manualName, LoginPage: a.onLoginPage()}
}

func (a *PageAgent) onLoginPage() bool {
	return a.snap != nil && a.snap.IsLoginPage()
}

func (a *PageAgent) handleSendResponse(_ context.Context, env messenger.Envelope) (any, error) {
	req, err := messenger.Decode[TypeReply](env)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: reply text is empty", ErrInvalid)
	}
	if a.shim == nil {
		return nil, ErrNoShim
	}
	if err := a.shim.WriteFrame(FrameTypeReply, req); err != nil {
		return nil, err
	}
	a.log.Info().Str("thread", req.ThreadID).Bool("main_input", req.ThreadID == "").Msg("reply handed to page")
	return nil, nil
}

func (a *PageAgent) handleOpenURL(_ context.Context, env messenger.Envelope) (any, error) {
	req, err := messenger.Decode[NavigateTo](env)
	if err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalid)
	}
	if a.shim == nil {
		return nil, ErrNoShim
	}
	return nil, a.shim.WriteFrame(FrameNavigate, req)
}

func (a *PageAgent) handleStatus(context.Context, messenger.Envelope) (any, error) {
	st := PageStatus{
		TabID:       a.config.TabID,
		Identity:    a.sc.Identity,
		State:       a.scheduler.State().String(),
		HasSnapshot: a.snap != nil,
		LoginPage:   a.onLoginPage(),
	}
	if a.snap != nil {
		st.URL = a.snap.RawURL
		st.ChannelID = a.snap.LastSegment()
	}
	return st, nil
}

func (a *PageAgent) currentURL() string {
	if a.snap == nil {
		return ""
	}
	return a.snap.RawURL
}
