package usecase

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/dom"
)

func snapshot(t *testing.T, rawURL, body string) *dom.Snapshot {
	t.Helper()
	snap, err := dom.Parse(dom.RawSnapshot{URL: rawURL, HTML: "<html><body>" + body + "</body></html>"})
	require.NoError(t, err)
	return snap
}

func TestIdentityResolver_Strategies(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		title  string
		html   string
		cookie map[string]string
		want   string
		source string
	}{
		{
			name:   "current user element",
			html:   `<span data-qa="current-user-name"> Drew Bomhof </span>`,
			want:   "Drew Bomhof",
			source: "current-user-element",
		},
		{
			name:   "profile tooltip strips label",
			html:   `<button data-qa="user-button" aria-label="User: Drew Bomhof"></button>`,
			want:   "Drew Bomhof",
			source: "profile-tooltip",
		},
		{
			name:   "page title",
			title:  "Drew Bomhof | Acme | Slack",
			want:   "Drew Bomhof",
			source: "page-title",
		},
		{
			name:   "url user id cross referenced",
			url:    "https://app.slack.com/client/T123/user_profile/U0123ABCD",
			html:   `<a data-member-id="U0123ABCD" data-member-label="@drew">x</a>`,
			want:   "drew",
			source: "url-user-id",
		},
		{
			name:   "cookie",
			cookie: map[string]string{"user_name": "drew.bomhof%40example.com"},
			want:   "drew.bomhof@example.com",
			source: "cookie-username",
		},
		{
			name:   "own message sender",
			html:   `<div class="c-message_kit__message--own"><span data-qa="message_sender_name">Drew</span></div>`,
			want:   "Drew",
			source: "own-message-sender",
		},
		{
			name:   "avatar alt",
			html:   `<button data-qa="user-button"><img alt="Drew Bomhof" src="a.png"></button>`,
			want:   "Drew Bomhof",
			source: "avatar-alt",
		},
		{
			name:   "priority order",
			title:  "Someone Else | Slack",
			html:   `<span data-qa="current-user-name">Drew Bomhof</span>`,
			want:   "Drew Bomhof",
			source: "current-user-element",
		},
	}

	r := NewIdentityResolver(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.url
			if u == "" {
				u = "https://app.slack.com/client/T123/C456"
			}
			snap, err := dom.Parse(dom.RawSnapshot{URL: u, Title: tt.title, HTML: tt.html, Cookies: tt.cookie})
			require.NoError(t, err)

			id := r.Resolve(snap)
			assert.True(t, id.Resolved)
			assert.Equal(t, tt.want, id.Name)
			assert.Equal(t, tt.source, id.Source)
		})
	}
}

func TestIdentityResolver_Unresolved(t *testing.T) {
	r := NewIdentityResolver(zerolog.Nop())

	id := r.Resolve(snapshot(t, "https://app.slack.com/client/T1/C1", `<div>nothing here</div>`))
	assert.True(t, id.IsUnknown())
	assert.Equal(t, domain.UnknownUserName, id.Name)
	assert.Empty(t, id.Alternates)

	assert.True(t, r.Resolve(nil).IsUnknown())
}

func TestIdentityResolver_LoginPage(t *testing.T) {
	r := NewIdentityResolver(zerolog.Nop())
	snap := snapshot(t, "https://slack.com/signin",
		`<h1>Sign in to your workspace</h1><span data-qa="current-user-name">Drew</span>`)

	assert.True(t, r.Resolve(snap).IsUnknown())
}

func TestIdentityResolver_TitleIsJustSlack(t *testing.T) {
	r := NewIdentityResolver(zerolog.Nop())
	snap, err := dom.Parse(dom.RawSnapshot{URL: "https://app.slack.com/", Title: "Slack | Slack"})
	require.NoError(t, err)

	assert.True(t, r.Resolve(snap).IsUnknown())
}

func TestIdentityResolver_PanickingStrategyIsSkipped(t *testing.T) {
	r := NewIdentityResolver(zerolog.Nop(),
		IdentityStrategy{Name: "boom", Find: func(*dom.Snapshot) string { panic("selector exploded") }},
		IdentityStrategy{Name: "fixed", Find: func(*dom.Snapshot) string { return "Drew Bomhof" }},
	)

	id := r.Resolve(snapshot(t, "https://app.slack.com/", ""))
	assert.Equal(t, "Drew Bomhof", id.Name)
	assert.Equal(t, "fixed", id.Source)
}

func TestIdentityResolver_Idempotent(t *testing.T) {
	r := NewIdentityResolver(zerolog.Nop())
	snap := snapshot(t, "https://app.slack.com/client/T1/C1", `<span data-qa="current-user-name">Drew Bomhof</span>`)

	first := r.Resolve(snap)
	second := r.Resolve(snap)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"bomhof", "dbomhof", "drew"}, first.Alternates)
}

func TestWithManualName(t *testing.T) {
	manual := WithManualName(domain.UnknownIdentity(), " Drew Bomhof ")
	assert.Equal(t, "Drew Bomhof", manual.Name)
	assert.Equal(t, domain.IdentitySourceManual, manual.Source)

	resolved := domain.NewIdentity("Someone", "page-title")
	assert.Equal(t, resolved, WithManualName(resolved, "Drew"))

	assert.True(t, WithManualName(domain.UnknownIdentity(), "  ").IsUnknown())
}
