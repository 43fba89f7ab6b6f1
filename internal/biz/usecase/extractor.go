package usecase

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/net/html"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/dom"
)

const (
	messageSelector   = `.c-message__body, .p-rich_text_section, [data-qa="message_content"]`
	containerSelector = `.c-virtual_list__item, .c-message_kit__message, [data-qa="virtual-list-item"]`
	markerSelector    = `[data-stringify-at-mention], .c-member_slug, [data-member-label]`

	selectedIMSelector = `.p-channel_sidebar__channel--im.p-channel_sidebar__channel--selected`
	dmHeaderIcon       = `[data-qa="channel_header_channel_type_icon_dm"]`
	channelHeaderName  = `[data-qa="channel_name"], .p-view_header__channel_title`

	channelButtonSelector = `[data-qa="channel_sidebar_channel_button"]`
	channelEntrySelector  = `.p-channel_sidebar__channel`
	channelNameSelector   = `.p-channel_sidebar__name`
	imEntryClass          = "p-channel_sidebar__channel--im"
	badgeSelector         = `.c-mention_badge, [data-qa="mentions_badge"]`

	// DefaultMessageText replaces an empty message body
	DefaultMessageText = "New message in Slack"
	// GeneralChannelID keys the summary event for badges outside any channel
	GeneralChannelID = "general"
	maxTextRunes     = 280
)

var unreadSelectors = []string{
	`.p-channel_sidebar__channel--unread`,
	`[data-qa="channel_sidebar_unread_channel"]`,
	`.c-mention_badge`,
	`[data-qa="mentions_badge"]`,
}

// ExtractorConfig tunes rate limiting of ambient events
type ExtractorConfig struct {
	AmbientCooldown time.Duration
	DMOpenCooldown  time.Duration
}

// DefaultExtractorConfig returns the stock cooldowns
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		AmbientCooldown: 10 * time.Second,
		DMOpenCooldown:  30 * time.Second,
	}
}

// Extractor turns a snapshot into candidate events
type Extractor struct {
	config ExtractorConfig
	log    zerolog.Logger
	newID  func() string
}

// NewExtractor creates an extractor
func NewExtractor(config ExtractorConfig, log zerolog.Logger) *Extractor {
	return &Extractor{config: config, log: log, newID: generateID}
}

func generateID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Extract scans the snapshot for new mentions, direct messages and ambient
// unread signals. It never fails; an unrecognized page yields no events.
func (x *Extractor) Extract(snap *dom.Snapshot, id domain.Identity, cursor domain.ScanCursor, opts domain.ScanOptions) []*domain.Event {
	if snap == nil {
		return nil
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	if snap.IsUnsupportedBrowser() {
		x.log.Info().Str("url", snap.RawURL).Msg("unsupported browser placeholder")
		if ev := x.unsupportedBrowserEvent(snap, now); ev != nil {
			return []*domain.Event{ev}
		}
		return nil
	}

	events := x.messageEvents(snap, id, cursor, now)

	synthesized := map[string]bool{}
	if x.allowed(cursor, now, opts.Manual, x.config.AmbientCooldown) {
		for _, ev := range x.ambientEvents(snap, now) {
			synthesized[ev.ChannelID] = true
			events = append(events, ev)
		}
	}
	// one synthesized event per channel and pass
	if isDMURL(snap) && !synthesized[snap.LastSegment()] &&
		x.allowed(cursor, now, opts.Manual, x.config.DMOpenCooldown) {
		events = append(events, &domain.Event{
			ID:              x.newID(),
			Text:            "You have a direct message conversation open",
			CreatedAt:       now,
			ChannelID:       snap.LastSegment(),
			IsDirectMessage: true,
			SourceURL:       snap.RawURL,
		})
	}
	return events
}

func (x *Extractor) allowed(cursor domain.ScanCursor, now time.Time, manual bool, cooldown time.Duration) bool {
	return manual || cursor.IsZero() || cursor.Since(now) > cooldown
}

func (x *Extractor) unsupportedBrowserEvent(snap *dom.Snapshot, now time.Time) *domain.Event {
	if !isDMURL(snap) {
		return nil
	}
	return &domain.Event{
		ID:              x.newID(),
		Text:            "You have an unread direct message. Please open Slack in a supported browser to view it.",
		CreatedAt:       now,
		ChannelID:       snap.LastSegment(),
		IsDirectMessage: true,
		SourceURL:       snap.RawURL,
	}
}

// candidate accumulates the message elements found under one container
type candidate struct {
	container *goquery.Selection
	text      string
	mention   bool
}

func (x *Extractor) messageEvents(snap *dom.Snapshot, id domain.Identity, cursor domain.ScanCursor, now time.Time) []*domain.Event {
	isDM := isDMPage(snap)
	match := newMentionMatcher(id.MatchForms())

	var order []*html.Node
	byContainer := map[*html.Node]*candidate{}

	snap.Find(messageSelector).Each(func(_ int, msg *goquery.Selection) {
		container := msg.Closest(containerSelector)
		if container.Length() == 0 {
			return
		}
		node := container.Nodes[0]
		c, ok := byContainer[node]
		if !ok {
			c = &candidate{container: container}
			byContainer[node] = c
			order = append(order, node)
		}
		if c.text == "" {
			c.text = dom.Text(msg)
		}
		c.mention = c.mention || match.element(msg)
	})

	if len(order) == 0 {
		x.log.Debug().Msg("no message elements found")
	}

	channelID := snap.LastSegment()
	channelName := dom.Text(snap.Find(channelHeaderName).First())

	var events []*domain.Event
	for _, node := range order {
		c := byContainer[node]
		if !c.mention && !isDM {
			continue
		}

		key := dom.AttrFirst(c.container, "data-thread-ts", "data-ts")
		createdAt, keyed := parseSlackTS(key)
		if !keyed {
			createdAt = now
		} else if !cursor.IsZero() && !createdAt.After(cursor.LastCheckedAt) {
			continue
		}

		eventID := dom.AttrFirst(c.container, "data-message-id")
		if eventID == "" {
			eventID = x.newID()
		}

		sourceURL := snap.RawURL
		if key != "" {
			sourceURL = snap.BaseURL() + "#" + key
		}

		events = append(events, &domain.Event{
			ID:              eventID,
			Text:            messageText(c.text),
			CreatedAt:       createdAt,
			ThreadID:        key,
			ChannelID:       channelID,
			ChannelName:     channelName,
			IsDirectMention: c.mention,
			IsDirectMessage: isDM,
			SourceURL:       sourceURL,
		})
	}
	return events
}

func (x *Extractor) ambientEvents(snap *dom.Snapshot, now time.Time) []*domain.Event {
	var events []*domain.Event
	seen := map[any]bool{}
	strayBadges := 0

	for _, sel := range unreadSelectors {
		snap.Find(sel).Each(func(_ int, el *goquery.Selection) {
			entry := el.Closest(channelButtonSelector)
			if entry.Length() == 0 {
				entry = el.Closest(channelEntrySelector)
			}
			if entry.Length() == 0 {
				if el.Is(badgeSelector) {
					strayBadges++
				}
				return
			}

			channelID := dom.AttrFirst(entry, "data-qa-channel-id", "data-channel-id")
			var key any = channelID
			if channelID == "" {
				key = entry.Nodes[0]
			}
			if seen[key] {
				return
			}
			seen[key] = true

			name := dom.Text(entry.Find(channelNameSelector).First())
			if name == "" {
				name = dom.Text(el)
			}
			isDM := entry.HasClass(imEntryClass) ||
				entry.Find(dmHeaderIcon).Length() > 0 ||
				strings.HasPrefix(channelID, "D")

			events = append(events, &domain.Event{
				ID:              x.newID(),
				Text:            "You have unread messages in " + ambientPlace(name, isDM),
				CreatedAt:       now,
				ChannelID:       channelID,
				ChannelName:     name,
				IsDirectMessage: isDM,
				SourceURL:       snap.RawURL,
			})
		})
	}

	if strayBadges > 0 {
		events = append(events, &domain.Event{
			ID:        x.newID(),
			Text:      "You have unread mentions or messages in Slack",
			CreatedAt: now,
			ChannelID: GeneralChannelID,
			SourceURL: snap.RawURL,
		})
	}
	return events
}

func ambientPlace(name string, isDM bool) string {
	switch {
	case name != "":
		return name
	case isDM:
		return "a direct message"
	default:
		return "a channel"
	}
}

func messageText(s string) string {
	s = domain.CollapseSpace(s)
	if s == "" {
		return DefaultMessageText
	}
	return domain.Truncate(s, maxTextRunes)
}

// isDMURL reports whether the URL shape is /client/<team>/D...
func isDMURL(snap *dom.Snapshot) bool {
	segs := snap.PathSegments()
	return lo.Contains(segs, "client") && strings.HasPrefix(snap.LastSegment(), "D")
}

func isDMPage(snap *dom.Snapshot) bool {
	return isDMURL(snap) || snap.Exists(selectedIMSelector) || snap.Exists(dmHeaderIcon)
}

// parseSlackTS converts "1700000000.000100" to a time, keeping the
// fractional part so ordering within one second survives
func parseSlackTS(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	whole, frac, _ := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		if nanos, err = strconv.ParseInt(frac, 10, 64); err != nil || nanos < 0 {
			return time.Time{}, false
		}
	}
	return time.Unix(secs, nanos), true
}

// mentionMatcher tests text against the identity's forms, case-insensitively,
// as a whole token or an @-prefixed substring
type mentionMatcher struct {
	forms []string
	token *regexp.Regexp
}

func newMentionMatcher(forms []string) *mentionMatcher {
	m := &mentionMatcher{forms: forms}
	if len(forms) == 0 {
		return m
	}
	quoted := lo.Map(forms, func(f string, _ int) string { return regexp.QuoteMeta(f) })
	m.token = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}_])`)
	return m
}

func (m *mentionMatcher) text(s string) bool {
	if m.token == nil || s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, f := range m.forms {
		if strings.Contains(s, "@"+f) {
			return true
		}
	}
	return m.token.MatchString(s)
}

func (m *mentionMatcher) element(msg *goquery.Selection) bool {
	if m.text(msg.Text()) {
		return true
	}
	found := false
	msg.Find(markerSelector).EachWithBreak(func(_ int, mk *goquery.Selection) bool {
		found = m.text(mk.Text()) || m.text(mk.AttrOr("data-member-label", "")) ||
			m.text(mk.AttrOr("data-stringify-at-mention", ""))
		return !found
	})
	return found
}
