package data

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/repo"
	"github.com/mentionwatch/mentionwatch/internal/infra/feishu"
)

type recordingNotifier struct {
	name string
	err  error
	got  []repo.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n repo.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) Name() string { return r.name }

type recordingHub struct {
	kinds    []string
	payloads []any
}

func (h *recordingHub) Broadcast(kind string, payload any) {
	h.kinds = append(h.kinds, kind)
	h.payloads = append(h.payloads, payload)
}

func TestMultiNotifier_ContinuesPastFailure(t *testing.T) {
	bad := &recordingNotifier{name: "bad", err: errors.New("offline")}
	good := &recordingNotifier{name: "good"}
	m := NewMultiNotifier(zerolog.Nop(), bad, good)

	err := m.Notify(context.Background(), repo.Notification{Title: "New Mention in Slack"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: offline")
	assert.Len(t, bad.got, 1)
	assert.Len(t, good.got, 1)
}

func TestPopupNotifier(t *testing.T) {
	hub := &recordingHub{}
	n := NewPopupNotifier(hub)

	require.NoError(t, n.Notify(context.Background(), repo.Notification{Title: "t", EventID: "e1"}))
	assert.Equal(t, []string{"notification"}, hub.kinds)
	assert.Equal(t, "e1", hub.payloads[0].(repo.Notification).EventID)
}

func TestSlackWebhookNotifier(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackWebhookNotifier(srv.URL)
	err := n.Notify(context.Background(), repo.Notification{
		Title:     "New Direct Message",
		Body:      "hi",
		TargetURL: "https://app.slack.com/client/T1/D1",
	})
	require.NoError(t, err)
	assert.Equal(t, "*New Direct Message*\nhi", body["text"])
}

func TestFeishuPostContent(t *testing.T) {
	raw, err := feishu.PostContent("New Mention in Slack", "hello", "https://x")
	require.NoError(t, err)

	var post map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &post))
	assert.Equal(t, "New Mention in Slack", post["zh_cn"]["title"])
	assert.Len(t, post["zh_cn"]["content"], 2)
}

func TestNewSuggestionRepo(t *testing.T) {
	tests := []struct {
		name     string
		settings domain.Settings
		want     string
		wantErr  bool
	}{
		{"static", domain.Settings{Provider: domain.ProviderStatic}, "static", false},
		{"empty is static", domain.Settings{}, "static", false},
		{"openai", domain.Settings{Provider: domain.ProviderOpenAI, APIKey: "k"}, "openai", false},
		{"moonshot", domain.Settings{Provider: domain.ProviderMoonshot, APIKey: "k"}, "moonshot", false},
		{"claude", domain.Settings{Provider: domain.ProviderClaude, APIKey: "k"}, "claude", false},
		{"missing key", domain.Settings{Provider: domain.ProviderClaude}, "", true},
		{"unknown", domain.Settings{Provider: "gemini", APIKey: "k"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewSuggestionRepo(tt.settings, domain.DefaultSuggestPrompts(), "")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Name())
		})
	}
}

func TestChatSuggestionRepo_ParsesReplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"1. On it\n2. Thanks!\n3. Will check\n4. Sure\n5. Extra"}]}`))
	}))
	defer srv.Close()

	r, err := NewSuggestionRepo(domain.Settings{Provider: domain.ProviderClaude, APIKey: "k"}, domain.SuggestPrompts{}, srv.URL)
	require.NoError(t, err)

	replies, err := r.Suggest(context.Background(), "can you review?", "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"On it", "Thanks!", "Will check", "Sure"}, replies)
}

func TestChatSuggestionRepo_EmptyCompletionIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  \n "}}]}`))
	}))
	defer srv.Close()

	r, err := NewSuggestionRepo(domain.Settings{Provider: domain.ProviderOpenAI, APIKey: "k"}, domain.SuggestPrompts{}, srv.URL+"/v1")
	require.NoError(t, err)

	_, err = r.Suggest(context.Background(), "x", "")
	assert.Error(t, err)
}
