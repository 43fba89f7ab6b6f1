package service

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/mentionwatch/mentionwatch/internal/messenger"
)

type pageEntry struct {
	mailbox   *messenger.Mailbox
	channelID string
	loginPage bool
}

// PageRegistry tracks the connected page agents by tab id
type PageRegistry struct {
	mu    sync.RWMutex
	pages map[string]*pageEntry
}

// NewPageRegistry creates an empty registry
func NewPageRegistry() *PageRegistry {
	return &PageRegistry{pages: map[string]*pageEntry{}}
}

// Add registers a page, replacing an older agent for the same tab
func (r *PageRegistry) Add(tabID string, mb *messenger.Mailbox) {
	r.mu.Lock()
	r.pages[tabID] = &pageEntry{mailbox: mb}
	r.mu.Unlock()
}

// Remove unregisters a page if mb is still the current agent of the tab
func (r *PageRegistry) Remove(tabID string, mb *messenger.Mailbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.pages[tabID]; ok && e.mailbox == mb {
		delete(r.pages, tabID)
	}
}

// SetScanned records what a tab showed on its last pass
func (r *PageRegistry) SetScanned(tabID, channelID string, loginPage bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.pages[tabID]; ok {
		e.channelID = channelID
		e.loginPage = loginPage
	}
}

// LoginPage reports whether any tab is on the sign-in screen
func (r *PageRegistry) LoginPage() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.SomeBy(lo.Values(r.pages), func(e *pageEntry) bool { return e.loginPage })
}

// Get returns the mailbox of a tab
func (r *PageRegistry) Get(tabID string) (*messenger.Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pages[tabID]
	if !ok {
		return nil, false
	}
	return e.mailbox, true
}

// Tabs returns the registered tab ids in sorted order
func (r *PageRegistry) Tabs() []string {
	r.mu.RLock()
	tabs := lo.Keys(r.pages)
	r.mu.RUnlock()
	sort.Strings(tabs)
	return tabs
}

// Len returns the number of registered pages
func (r *PageRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pages)
}

// Pick chooses the tab to act on: one showing channelID if any, otherwise
// the first tab
func (r *PageRegistry) Pick(channelID string) (string, *messenger.Mailbox, bool) {
	tabs := r.Tabs()
	if len(tabs) == 0 {
		return "", nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if channelID != "" {
		for _, tab := range tabs {
			if e, ok := r.pages[tab]; ok && e.channelID == channelID {
				return tab, e.mailbox, true
			}
		}
	}
	for _, tab := range tabs {
		if e, ok := r.pages[tab]; ok {
			return tab, e.mailbox, true
		}
	}
	return "", nil, false
}
