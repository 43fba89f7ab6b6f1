package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
)

// ScanState is the scheduler state
type ScanState int

const (
	StateIdle ScanState = iota
	StateScanning
	StateCooldown
)

func (s ScanState) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateCooldown:
		return "cooldown"
	default:
		return "idle"
	}
}

// ScanFunc runs one scan pass. It returns when the pass is complete.
type ScanFunc func(ctx context.Context, trigger domain.Trigger)

// SchedulerConfig holds the scheduler intervals
type SchedulerConfig struct {
	ScanInterval     time.Duration
	WatchdogInterval time.Duration
	Cooldown         time.Duration
}

// DefaultSchedulerConfig returns the stock intervals
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ScanInterval:     time.Minute,
		WatchdogInterval: 10 * time.Minute,
		Cooldown:         10 * time.Second,
	}
}

// ScanScheduler decides when a page scans. A cron alarm produces timer
// triggers, a watchdog re-arms the alarm if it disappears, and at most one
// pass runs at a time with at most one trigger pending.
type ScanScheduler struct {
	config SchedulerConfig
	scan   ScanFunc
	log    zerolog.Logger
	now    func() time.Time

	cron    *cron.Cron
	signal  chan struct{}
	mu      sync.Mutex
	alarmID cron.EntryID
	pending domain.Trigger
	state   ScanState
	until   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScanScheduler creates a new scheduler
func NewScanScheduler(config SchedulerConfig, scan ScanFunc, log zerolog.Logger) *ScanScheduler {
	return &ScanScheduler{
		config: config,
		scan:   scan,
		log:    log,
		now:    time.Now,
		cron:   cron.New(),
		signal: make(chan struct{}, 1),
	}
}

// Start arms the alarm and watchdog and starts the trigger loop
func (s *ScanScheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.armAlarm(); err != nil {
		return err
	}
	spec := fmt.Sprintf("@every %s", s.config.WatchdogInterval)
	if _, err := s.cron.AddFunc(spec, s.Watchdog); err != nil {
		return fmt.Errorf("failed to add watchdog: %w", err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.loop()

	s.log.Info().
		Dur("interval", s.config.ScanInterval).
		Dur("watchdog", s.config.WatchdogInterval).
		Msg("scheduler started")
	return nil
}

// Stop stops the alarm and waits for a running pass to finish
func (s *ScanScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *ScanScheduler) armAlarm() error {
	spec := fmt.Sprintf("@every %s", s.config.ScanInterval)
	id, err := s.cron.AddFunc(spec, func() { s.Trigger(domain.TriggerTimer) })
	if err != nil {
		return fmt.Errorf("failed to arm scan alarm: %w", err)
	}
	s.mu.Lock()
	s.alarmID = id
	s.mu.Unlock()
	return nil
}

// Watchdog recreates the scan alarm if it no longer exists
func (s *ScanScheduler) Watchdog() {
	s.mu.Lock()
	id := s.alarmID
	s.mu.Unlock()

	if s.cron.Entry(id).Valid() {
		return
	}
	s.log.Warn().Msg("scan alarm missing, re-arming")
	if err := s.armAlarm(); err != nil {
		s.log.Error().Err(err).Msg("re-arm failed")
	}
}

// AlarmArmed reports whether the periodic alarm exists
func (s *ScanScheduler) AlarmArmed() bool {
	s.mu.Lock()
	id := s.alarmID
	s.mu.Unlock()
	return s.cron.Entry(id).Valid()
}

// dropAlarm removes the alarm, as happens when the host tears it down
func (s *ScanScheduler) dropAlarm() {
	s.mu.Lock()
	id := s.alarmID
	s.mu.Unlock()
	s.cron.Remove(id)
}

// Trigger requests a scan. It never blocks. When a trigger is already
// pending the two are coalesced, keeping the more urgent one, and false
// is returned.
func (s *ScanScheduler) Trigger(t domain.Trigger) bool {
	s.mu.Lock()
	fresh := s.pending == ""
	if fresh || outranks(t, s.pending) {
		s.pending = t
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return fresh
}

func outranks(a, b domain.Trigger) bool {
	if a == domain.TriggerManual {
		return b != domain.TriggerManual
	}
	return a.Immediate() && !b.Immediate()
}

// State returns the current state
func (s *ScanScheduler) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *ScanScheduler) stateLocked() ScanState {
	if s.state == StateCooldown && !s.now().Before(s.until) {
		return StateIdle
	}
	return s.state
}

func (s *ScanScheduler) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.signal:
			s.handle()
		}
	}
}

func (s *ScanScheduler) handle() {
	s.mu.Lock()
	t := s.pending
	s.pending = ""
	if t == "" {
		s.mu.Unlock()
		return
	}
	// a timer pass inside the cooldown still runs; the extractor keeps
	// ambient events out of it
	if s.stateLocked() == StateCooldown && !t.Immediate() {
		s.log.Debug().Str("trigger", string(t)).Msg("scanning during cooldown, ambient suppressed")
	}
	s.state = StateScanning
	s.mu.Unlock()

	s.scan(s.ctx, t)

	s.mu.Lock()
	s.state = StateCooldown
	s.until = s.now().Add(s.config.Cooldown)
	s.mu.Unlock()
}
