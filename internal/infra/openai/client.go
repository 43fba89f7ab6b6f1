package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// MoonshotBaseURL is the OpenAI-compatible Moonshot endpoint
	MoonshotBaseURL = "https://api.moonshot.cn/v1"

	DefaultOpenAIModel   = openai.GPT3Dot5Turbo
	DefaultMoonshotModel = "moonshot-v1-8k"
)

// Client is a chat completion client for OpenAI-compatible APIs
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a new client. An empty baseURL targets api.openai.com.
func NewClient(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = DefaultOpenAIModel
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// NewMoonshotClient creates a client pointed at Moonshot
func NewMoonshotClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultMoonshotModel
	}
	return NewClient(apiKey, model, MoonshotBaseURL)
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// Chat sends a system and user message and returns the reply. The caller's
// context bounds the request.
func (c *Client) Chat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
