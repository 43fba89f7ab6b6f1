package service

import (
	"time"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
)

// Actions handled by the background context
const (
	ActionMentionFound          = "mentionFound"
	ActionIdentityDetected      = "identityDetected"
	ActionScanCompleted         = "scanCompleted"
	ActionSuggestionsReady      = "suggestionsReady"
	ActionCheckMentionsManually = "checkMentionsManually"
	ActionRemoveEvent           = "removeEvent"
	ActionOpenEvent             = "openEvent"
	ActionSendReply             = "sendReply"
	ActionListEvents            = "listEvents"
	ActionGetDetectedUsername   = "getDetectedUsername"
	ActionSetManualUsername     = "setManualUsername"
	ActionGetSettings           = "getSettings"
	ActionUpdateSettings        = "updateSettings"
)

// Actions handled by a page context
const (
	ActionCheckMentions = "checkMentions"
	ActionSendResponse  = "sendResponse"
	ActionOpenURL       = "openUrl"
	ActionPageStatus    = "pageStatus"
)

// Frames exchanged with the page shim
const (
	FrameSnapshot   = "snapshot"
	FrameVisibility = "visibility"
	FrameNavigated  = "navigated"
	FrameTypeReply  = "typeReply"
	FrameNavigate   = "navigate"
)

// Frames pushed to popup subscribers
const (
	PopupEventAdded    = "eventAdded"
	PopupEventUpdated  = "eventUpdated"
	PopupEventsRemoved = "eventsRemoved"
	PopupIdentity      = "identity"
)

// IdentityReport announces a newly resolved identity
type IdentityReport struct {
	TabID    string          `json:"tabId"`
	URL      string          `json:"url"`
	Identity domain.Identity `json:"identity"`
}

// ScanReport summarizes one completed pass
type ScanReport struct {
	TabID     string            `json:"tabId"`
	Trigger   domain.Trigger    `json:"trigger"`
	ChannelID string            `json:"channelId"`
	Events    int               `json:"events"`
	Cursor    domain.ScanCursor `json:"cursor"`
	Duration  time.Duration     `json:"duration"`
	LoginPage bool              `json:"loginPage,omitempty"`
}

// SuggestionsReport carries replies computed off the background loop
type SuggestionsReport struct {
	EventID  string   `json:"eventId"`
	Replies  []string `json:"replies"`
	Fallback bool     `json:"fallback"`
	Provider string   `json:"provider"`
}

// CheckRequest asks for a scan
type CheckRequest struct {
	Manual bool   `json:"manual"`
	TabID  string `json:"tabId,omitempty"`
}

// CheckResult reports how many pages accepted a scan request
type CheckResult struct {
	Tabs    int `json:"tabs"`
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// EventRef names a stored event
type EventRef struct {
	ID string `json:"id"`
}

// OpenResult tells the caller where the event lives
type OpenResult struct {
	SourceURL string `json:"sourceUrl"`
	Navigated bool   `json:"navigated"`
}

// ReplyRequest answers an event, in its thread when it has one. Either
// EventID or ThreadID is set.
type ReplyRequest struct {
	EventID  string `json:"eventId,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
	Text     string `json:"text"`
}

// ReplyResult reports how many events the reply resolved
type ReplyResult struct {
	TabID   string `json:"tabId"`
	Removed int64  `json:"removed"`
}

// TypeReply is written to the page shim to type and send a reply. Without
// a thread id the shim uses the conversation's main message input.
type TypeReply struct {
	ThreadID string `json:"threadId,omitempty"`
	Text     string `json:"text"`
}

// NavigateTo is written to the page shim to move the tab
type NavigateTo struct {
	URL string `json:"url"`
}

// UsernameRequest sets the manual user name
type UsernameRequest struct {
	Name string `json:"name"`
}

// IdentityStatus is the answer to getDetectedUsername
type IdentityStatus struct {
	Identity       domain.Identity `json:"identity"`
	ManualUserName string          `json:"manualUserName,omitempty"`
	// LoginPage is set while a tab shows the workspace sign-in screen, so
	// an unknown identity means "sign in" rather than "enter it manually"
	LoginPage bool `json:"loginPage"`
}

// VisibilityChange is sent by the shim when the tab is shown or hidden
type VisibilityChange struct {
	Visible bool `json:"visible"`
}

// Navigation is sent by the shim when the tab URL changes
type Navigation struct {
	URL string `json:"url"`
}

// PageStatus describes a page agent
type PageStatus struct {
	TabID       string          `json:"tabId"`
	URL         string          `json:"url"`
	ChannelID   string          `json:"channelId"`
	Identity    domain.Identity `json:"identity"`
	State       string          `json:"state"`
	HasSnapshot bool            `json:"hasSnapshot"`
	LoginPage   bool            `json:"loginPage"`
}
