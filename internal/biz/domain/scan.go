package domain

import (
	"net/url"
	"time"
)

// Trigger names what started a scan pass
type Trigger string

const (
	TriggerTimer      Trigger = "timer"
	TriggerManual     Trigger = "manual"
	TriggerVisibility Trigger = "visibility"
	TriggerNavigation Trigger = "navigation"
	TriggerStartup    Trigger = "startup"
)

// Immediate reports whether the trigger collapses a pending cooldown
func (t Trigger) Immediate() bool {
	return t == TriggerManual || t == TriggerVisibility || t == TriggerNavigation
}

// ScanOptions carries per-pass inputs to extraction
type ScanOptions struct {
	Now    time.Time
	Manual bool
}

// ScanContext is the state one page context threads through resolution,
// extraction and scheduling. It is owned by a single goroutine.
type ScanContext struct {
	Identity    Identity
	Cursor      ScanCursor
	identityURL string
}

// NewScanContext creates a scan context starting from the given cursor
func NewScanContext(cursor ScanCursor) *ScanContext {
	return &ScanContext{Identity: UnknownIdentity(), Cursor: cursor}
}

// Navigated discards the identity when the page moved to a different path
func (c *ScanContext) Navigated(rawURL string) bool {
	if c.identityURL == "" || samePage(c.identityURL, rawURL) {
		return false
	}
	c.Identity = UnknownIdentity()
	c.identityURL = ""
	return true
}

// UpdateIdentity stores a freshly resolved identity and reports whether it changed
func (c *ScanContext) UpdateIdentity(id Identity, rawURL string) bool {
	changed := !c.Identity.Equal(id)
	c.Identity = id
	c.identityURL = rawURL
	return changed
}

// Complete advances the cursor at the end of a pass
func (c *ScanContext) Complete(now time.Time) {
	c.Cursor = ScanCursor{LastCheckedAt: now}
}

func samePage(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ua.Host == ub.Host && ua.Path == ub.Path
}
