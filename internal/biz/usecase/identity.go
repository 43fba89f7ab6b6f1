package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/dom"
)

// IdentityStrategy extracts a candidate display name from a snapshot.
// An empty result means "no candidate".
type IdentityStrategy struct {
	Name string
	Find func(snap *dom.Snapshot) string
}

var (
	currentUserSelectors = []string{
		`[data-qa="current-user-name"]`,
		`.p-ia__nav__user__button`,
		`.p-ia_sidebar_header__user_name`,
		`.c-avatar__presence`,
		`.p-ia__sidebar_header__user__name`,
	}
	userButtonSelector  = `[data-qa="user-button"], [data-qa="user_menu_button"]`
	memberLookupAttrs   = []string{"data-member-id", "data-qa-user-id", "data-user-id"}
	usernameCookies     = []string{"username", "user_name", "display_name"}
	ownSenderSelector   = `.c-message_kit__message--own [data-qa="message_sender_name"], .c-message--own .c-message__sender_link`
	avatarImageSelector = `[data-qa="user-button"] img[alt], .p-ia__nav__user__avatar img[alt]`
	userIDPattern       = regexp.MustCompile(`^[UW][A-Z0-9]{6,}$`)
	tooltipLabelPrefix  = regexp.MustCompile(`^[A-Za-z ]{1,24}:\s*`)
	genericNames        = map[string]bool{"slack": true, "avatar": true, "user avatar": true, "profile": true}
)

// DefaultIdentityStrategies returns the resolution cascade in priority order
func DefaultIdentityStrategies() []IdentityStrategy {
	return []IdentityStrategy{
		{Name: "current-user-element", Find: findCurrentUserElement},
		{Name: "profile-tooltip", Find: findProfileTooltip},
		{Name: "page-title", Find: findPageTitle},
		{Name: "url-user-id", Find: findURLUserID},
		{Name: "cookie-username", Find: findCookieUsername},
		{Name: "own-message-sender", Find: findOwnMessageSender},
		{Name: "avatar-alt", Find: findAvatarAlt},
	}
}

// IdentityResolver determines who the current user is from a snapshot
type IdentityResolver struct {
	strategies []IdentityStrategy
	log        zerolog.Logger
}

// NewIdentityResolver creates a resolver. With no strategies the default
// cascade is used.
func NewIdentityResolver(log zerolog.Logger, strategies ...IdentityStrategy) *IdentityResolver {
	if len(strategies) == 0 {
		strategies = DefaultIdentityStrategies()
	}
	return &IdentityResolver{strategies: strategies, log: log}
}

// Resolve runs the strategies in order; the first non-empty candidate wins.
// It never mutates the snapshot and never fails: when nothing matches the
// sentinel identity is returned.
func (r *IdentityResolver) Resolve(snap *dom.Snapshot) domain.Identity {
	if snap == nil {
		return domain.UnknownIdentity()
	}
	if snap.IsLoginPage() {
		r.log.Debug().Msg("login page, identity not available yet")
		return domain.UnknownIdentity()
	}

	for _, s := range r.strategies {
		name, err := r.try(s, snap)
		if err != nil {
			r.log.Warn().Err(err).Str("strategy", s.Name).Msg("identity strategy failed")
			continue
		}
		if name == "" || genericNames[strings.ToLower(name)] {
			continue
		}
		r.log.Debug().Str("strategy", s.Name).Str("name", name).Msg("identity resolved")
		return domain.NewIdentity(name, s.Name)
	}
	return domain.UnknownIdentity()
}

func (r *IdentityResolver) try(s IdentityStrategy, snap *dom.Snapshot) (name string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			name, err = "", fmt.Errorf("panic: %v", rec)
		}
	}()
	return strings.TrimSpace(s.Find(snap)), nil
}

// WithManualName replaces the sentinel with a user-entered name. A resolved
// identity is left alone.
func WithManualName(id domain.Identity, manual string) domain.Identity {
	manual = strings.TrimSpace(manual)
	if !id.IsUnknown() || manual == "" {
		return id
	}
	return domain.NewIdentity(manual, domain.IdentitySourceManual)
}

func findCurrentUserElement(snap *dom.Snapshot) string {
	for _, sel := range currentUserSelectors {
		if name := dom.Text(snap.Find(sel).First()); name != "" {
			return name
		}
	}
	return ""
}

func findProfileTooltip(snap *dom.Snapshot) string {
	label := dom.AttrFirst(snap.Find(userButtonSelector).First(), "aria-label", "title", "data-tooltip")
	return strings.TrimSpace(tooltipLabelPrefix.ReplaceAllString(label, ""))
}

func findPageTitle(snap *dom.Snapshot) string {
	if !strings.Contains(snap.Title, " | ") {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(snap.Title, " | ", 2)[0])
}

func findURLUserID(snap *dom.Snapshot) string {
	var userID string
	q := snap.URL.Query()
	for _, c := range append(snap.PathSegments(), q.Get("user"), q.Get("member")) {
		if userIDPattern.MatchString(c) {
			userID = c
		}
	}
	if userID == "" {
		return ""
	}

	for _, attr := range memberLookupAttrs {
		el := snap.Find(fmt.Sprintf(`[%s=%q]`, attr, userID)).First()
		if el.Length() == 0 {
			continue
		}
		if name := dom.AttrFirst(el, "data-member-label", "aria-label"); name != "" {
			return strings.TrimPrefix(name, "@")
		}
		if name := dom.Text(el); name != "" {
			return strings.TrimPrefix(name, "@")
		}
	}
	return ""
}

func findCookieUsername(snap *dom.Snapshot) string {
	for _, c := range usernameCookies {
		if v := snap.Cookie(c); v != "" {
			return v
		}
	}
	return ""
}

func findOwnMessageSender(snap *dom.Snapshot) string {
	var name string
	snap.Find(ownSenderSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name = dom.Text(s)
		return name == ""
	})
	return name
}

func findAvatarAlt(snap *dom.Snapshot) string {
	return dom.AttrFirst(snap.Find(avatarImageSelector).First(), "alt")
}
