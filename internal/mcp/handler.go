package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/service"
)

const defaultListLimit = 20

// Mention is the tool-facing view of a stored event
type Mention struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Text        string   `json:"text"`
	Channel     string   `json:"channel"`
	ThreadID    string   `json:"thread_id,omitempty"`
	CreatedAt   string   `json:"created_at"`
	URL         string   `json:"url"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func toMention(ev *domain.Event) Mention {
	channel := ev.ChannelName
	if channel == "" {
		channel = ev.ChannelID
	}
	return Mention{
		ID:          ev.ID,
		Kind:        ev.Kind(),
		Text:        ev.Text,
		Channel:     channel,
		ThreadID:    ev.ThreadID,
		CreatedAt:   ev.CreatedAt.Format(time.RFC3339),
		URL:         ev.SourceURL,
		Suggestions: ev.SuggestedResponses,
	}
}

// ListMentionsInput filters the listed mentions
type ListMentionsInput struct {
	Kind  string `json:"kind,omitempty" jsonschema:"Only return this kind: mention, dm or ambient"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of mentions to return (default 20)"`
}

// ListMentionsOutput holds the matching mentions
type ListMentionsOutput struct {
	Mentions []Mention `json:"mentions"`
	Total    int       `json:"total"`
}

func (s *Server) handleListMentions(ctx context.Context, _ *mcp.CallToolRequest, input ListMentionsInput) (*mcp.CallToolResult, ListMentionsOutput, error) {
	events, err := s.client.ListEvents(ctx)
	if err != nil {
		return nil, ListMentionsOutput{}, err
	}

	kind := strings.ToLower(strings.TrimSpace(input.Kind))
	if kind != "" {
		events = lo.Filter(events, func(ev *domain.Event, _ int) bool { return ev.Kind() == kind })
	}
	total := len(events)

	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(events) > limit {
		events = events[:limit]
	}

	return nil, ListMentionsOutput{
		Mentions: lo.Map(events, func(ev *domain.Event, _ int) Mention { return toMention(ev) }),
		Total:    total,
	}, nil
}

// MentionRef names one stored mention
type MentionRef struct {
	ID string `json:"id" jsonschema:"The mention id as returned by list_mentions"`
}

// DismissOutput reports a removal
type DismissOutput struct {
	Success bool `json:"success"`
}

func (s *Server) handleDismissMention(ctx context.Context, _ *mcp.CallToolRequest, input MentionRef) (*mcp.CallToolResult, DismissOutput, error) {
	if input.ID == "" {
		return nil, DismissOutput{}, fmt.Errorf("id is required")
	}
	if err := s.client.RemoveEvent(ctx, input.ID); err != nil {
		return nil, DismissOutput{}, err
	}
	return nil, DismissOutput{Success: true}, nil
}

// OpenOutput reports where the mention lives
type OpenOutput struct {
	URL       string `json:"url"`
	Navigated bool   `json:"navigated"`
}

func (s *Server) handleOpenMention(ctx context.Context, _ *mcp.CallToolRequest, input MentionRef) (*mcp.CallToolResult, OpenOutput, error) {
	if input.ID == "" {
		return nil, OpenOutput{}, fmt.Errorf("id is required")
	}
	res, err := s.client.OpenEvent(ctx, input.ID)
	if err != nil {
		return nil, OpenOutput{}, err
	}
	return nil, OpenOutput{URL: res.SourceURL, Navigated: res.Navigated}, nil
}

// CheckMentionsInput is empty
type CheckMentionsInput struct{}

// CheckMentionsOutput reports how many tabs were asked to scan
type CheckMentionsOutput struct {
	Tabs   int `json:"tabs"`
	Queued int `json:"queued"`
}

func (s *Server) handleCheckMentions(ctx context.Context, _ *mcp.CallToolRequest, _ CheckMentionsInput) (*mcp.CallToolResult, CheckMentionsOutput, error) {
	res, err := s.client.Scan(ctx)
	if err != nil {
		return nil, CheckMentionsOutput{}, err
	}
	return nil, CheckMentionsOutput{Tabs: res.Tabs, Queued: res.Queued}, nil
}

// SendReplyInput is the reply to type
type SendReplyInput struct {
	ID   string `json:"id" jsonschema:"The mention to answer"`
	Text string `json:"text" jsonschema:"The reply text"`
}

// SendReplyOutput reports the resolved mentions
type SendReplyOutput struct {
	Resolved int64 `json:"resolved"`
}

func (s *Server) handleSendReply(ctx context.Context, _ *mcp.CallToolRequest, input SendReplyInput) (*mcp.CallToolResult, SendReplyOutput, error) {
	if input.ID == "" {
		return nil, SendReplyOutput{}, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, SendReplyOutput{}, fmt.Errorf("text is required")
	}
	res, err := s.client.SendReply(ctx, service.ReplyRequest{EventID: input.ID, Text: input.Text})
	if err != nil {
		return nil, SendReplyOutput{}, err
	}
	return nil, SendReplyOutput{Resolved: res.Removed}, nil
}

// IdentityInput is empty
type IdentityInput struct{}

// IdentityOutput is the name mentions are matched against
type IdentityOutput struct {
	Name       string   `json:"name"`
	Alternates []string `json:"alternates"`
	Resolved   bool     `json:"resolved"`
	Source     string   `json:"source,omitempty"`
	Manual     string   `json:"manual,omitempty"`
	LoginPage  bool     `json:"login_page"`
}

func toIdentityOutput(st *service.IdentityStatus) IdentityOutput {
	return IdentityOutput{
		Name:       st.Identity.Name,
		Alternates: lo.Ternary(st.Identity.Alternates == nil, []string{}, st.Identity.Alternates),
		Resolved:   st.Identity.Resolved,
		Source:     st.Identity.Source,
		Manual:     st.ManualUserName,
		LoginPage:  st.LoginPage,
	}
}

func (s *Server) handleGetIdentity(ctx context.Context, _ *mcp.CallToolRequest, _ IdentityInput) (*mcp.CallToolResult, IdentityOutput, error) {
	st, err := s.client.Identity(ctx)
	if err != nil {
		return nil, IdentityOutput{}, err
	}
	return nil, toIdentityOutput(st), nil
}

// SetUsernameInput is the manual override
type SetUsernameInput struct {
	Name string `json:"name" jsonschema:"The Slack display name, or empty to clear the override"`
}

func (s *Server) handleSetUsername(ctx context.Context, _ *mcp.CallToolRequest, input SetUsernameInput) (*mcp.CallToolResult, IdentityOutput, error) {
	st, err := s.client.SetUsername(ctx, strings.TrimSpace(input.Name))
	if err != nil {
		return nil, IdentityOutput{}, err
	}
	return nil, toIdentityOutput(st), nil
}
