package mcp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/service"
)

// Client talks to the daemon's HTTP API
type Client struct {
	http *resty.Client
}

// APIError is a non-2xx answer from the daemon
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
}

// NewClient creates a client for the daemon at baseURL
func NewClient(baseURL string) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: http}
}

// ListEvents returns the stored mentions, newest first
func (c *Client) ListEvents(ctx context.Context) ([]*domain.Event, error) {
	var out struct {
		Events []*domain.Event `json:"events"`
	}
	if err := c.do(ctx, "GET", "/api/events", nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// RemoveEvent dismisses a stored mention
func (c *Client) RemoveEvent(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/api/events/"+url.PathEscape(id), nil, nil)
}

// OpenEvent dismisses a mention and navigates a Slack tab to it
func (c *Client) OpenEvent(ctx context.Context, id string) (*service.OpenResult, error) {
	var out service.OpenResult
	if err := c.do(ctx, "POST", "/api/events/"+url.PathEscape(id)+"/open", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scan asks every connected tab for a manual scan
func (c *Client) Scan(ctx context.Context) (*service.CheckResult, error) {
	var out service.CheckResult
	if err := c.do(ctx, "POST", "/api/scan", service.CheckRequest{Manual: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendReply types a reply to an event, in its thread when it has one
func (c *Client) SendReply(ctx context.Context, req service.ReplyRequest) (*service.ReplyResult, error) {
	var out service.ReplyResult
	if err := c.do(ctx, "POST", "/api/replies", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Identity returns the detected user and the manual override
func (c *Client) Identity(ctx context.Context) (*service.IdentityStatus, error) {
	var out service.IdentityStatus
	if err := c.do(ctx, "GET", "/api/identity", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetUsername sets the manual user name. An empty name clears it.
func (c *Client) SetUsername(ctx context.Context, name string) (*service.IdentityStatus, error) {
	var out service.IdentityStatus
	if err := c.do(ctx, "PUT", "/api/identity", service.UsernameRequest{Name: name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var apiErr errorBody
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return nil
}
