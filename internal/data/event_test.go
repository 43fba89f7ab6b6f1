package data

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	repos, err := NewRepositories(filepath.Join(t.TempDir(), "nested", "mentionwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func TestEventRepo_AdmitIsUniqueByID(t *testing.T) {
	ctx := context.Background()
	r := newTestRepos(t).Event

	first := &domain.Event{
		ID:              "m1",
		Text:            "hello @drew",
		CreatedAt:       time.UnixMilli(1700000000123),
		ThreadID:        "1700000000.000100",
		ChannelID:       "C1",
		ChannelName:     "general",
		IsDirectMention: true,
		SourceURL:       "https://app.slack.com/client/T1/C1#1700000000.000100",
	}
	ok, err := r.Admit(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := *first
	dup.Text = "changed"
	ok, err = r.Admit(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello @drew", got.Text)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
	assert.True(t, got.IsDirectMention)
	assert.False(t, got.IsDirectMessage)
	assert.Equal(t, "general", got.ChannelName)
	assert.Equal(t, []string{}, got.SuggestedResponses)

	missing, err := r.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEventRepo_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	r := newTestRepos(t).Event

	for i, id := range []string{"b", "c", "a"} {
		_, err := r.Admit(ctx, &domain.Event{ID: id, CreatedAt: time.Unix(int64(100+i*10), 0)})
		require.NoError(t, err)
	}

	events, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "c", events[1].ID)
	assert.Equal(t, "b", events[2].ID)
}

func TestEventRepo_ListEmpty(t *testing.T) {
	events, err := newTestRepos(t).Event.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestEventRepo_RemoveByThread(t *testing.T) {
	ctx := context.Background()
	r := newTestRepos(t).Event

	for _, e := range []*domain.Event{
		{ID: "a", ThreadID: "t1"},
		{ID: "b", ThreadID: "t1"},
		{ID: "c", ThreadID: "t2"},
		{ID: "d"},
	} {
		_, err := r.Admit(ctx, e)
		require.NoError(t, err)
	}

	n, err := r.RemoveByThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = r.RemoveByThread(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err := r.Remove(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Remove(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok)

	events, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "d", events[0].ID)
}

func TestEventRepo_SetSuggestions(t *testing.T) {
	ctx := context.Background()
	r := newTestRepos(t).Event

	_, err := r.Admit(ctx, &domain.Event{ID: "a"})
	require.NoError(t, err)

	ok, err := r.SetSuggestions(ctx, "a", []string{"Sure", "Later"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sure", "Later"}, got.SuggestedResponses)

	ok, err = r.SetSuggestions(ctx, "removed", []string{"x"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateRepo(t *testing.T) {
	ctx := context.Background()
	r := newTestRepos(t).State

	cursor, err := r.GetCursor(ctx)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())

	id, err := r.GetIdentity(ctx)
	require.NoError(t, err)
	assert.True(t, id.IsUnknown())

	_, found, err := r.GetSettings(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.SaveCursor(ctx, domain.ScanCursor{LastCheckedAt: now}))
	require.NoError(t, r.SaveCursor(ctx, domain.ScanCursor{LastCheckedAt: now.Add(time.Minute)}))
	cursor, err = r.GetCursor(ctx)
	require.NoError(t, err)
	assert.True(t, now.Add(time.Minute).Equal(cursor.LastCheckedAt))

	require.NoError(t, r.SaveIdentity(ctx, domain.NewIdentity("Drew Bomhof", "page-title")))
	id, err = r.GetIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Drew Bomhof", id.Name)
	assert.Equal(t, []string{"bomhof", "dbomhof", "drew"}, id.Alternates)

	require.NoError(t, r.SaveSettings(ctx, domain.Settings{Provider: domain.ProviderClaude, SuggestionsEnabled: true}))
	s, found, err := r.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.ProviderClaude, s.Provider)
	assert.True(t, s.SuggestionsEnabled)
	assert.False(t, s.NotificationsEnabled)
}
