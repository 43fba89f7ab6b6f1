package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-3-haiku-20240307"
	apiVersion     = "2023-06-01"
)

// Client calls the Anthropic messages API
type Client struct {
	http  *resty.Client
	model string
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a new client. Empty baseURL and model use the defaults.
func NewClient(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("x-api-key", apiKey).
		SetHeader("anthropic-version", apiVersion).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http, model: model}
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// Chat sends one user turn and returns the concatenated text blocks
func (c *Client) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	var out messagesResponse
	var apiErr errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(messagesRequest{
			Model:     c.model,
			MaxTokens: 300,
			System:    systemPrompt,
			Messages:  []message{{Role: "user", Content: userMessage}},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/messages")
	if err != nil {
		return "", fmt.Errorf("claude request: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error.Message != "" {
			return "", fmt.Errorf("claude api %d: %s", resp.StatusCode(), apiErr.Error.Message)
		}
		return "", fmt.Errorf("claude api status %d", resp.StatusCode())
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("claude returned no text")
	}
	return strings.TrimSpace(sb.String()), nil
}
