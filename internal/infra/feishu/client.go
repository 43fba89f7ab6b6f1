package feishu

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// Client sends notification messages to a Feishu chat
type Client struct {
	larkCli *lark.Client
	chatID  string
}

// NewClient creates a new Feishu client bound to one chat. baseURL is
// optional and overrides the open platform endpoint.
func NewClient(appID, appSecret, chatID, baseURL string) *Client {
	var opts []lark.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(baseURL))
	}
	return &Client{
		larkCli: lark.NewClient(appID, appSecret, opts...),
		chatID:  chatID,
	}
}

// ChatID returns the target chat
func (c *Client) ChatID() string {
	return c.chatID
}

// SendText sends a text message to the chat
func (c *Client) SendText(ctx context.Context, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})
	return c.send(ctx, larkim.MsgTypeText, string(content))
}

// SendPost sends a rich text message with a title, body and optional link
func (c *Client) SendPost(ctx context.Context, title, body, link string) error {
	content, err := PostContent(title, body, link)
	if err != nil {
		return err
	}
	return c.send(ctx, larkim.MsgTypePost, content)
}

func (c *Client) send(ctx context.Context, msgType, content string) error {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(c.chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}
	return nil
}

// PostContent renders the JSON body of a post message
func PostContent(title, body, link string) (string, error) {
	lines := [][]map[string]string{
		{{"tag": "text", "text": body}},
	}
	if link != "" {
		lines = append(lines, []map[string]string{{"tag": "a", "text": "Open in Slack", "href": link}})
	}
	post := map[string]any{
		"zh_cn": map[string]any{
			"title":   title,
			"content": lines,
		},
	}
	b, err := json.Marshal(post)
	if err != nil {
		return "", fmt.Errorf("marshal post: %w", err)
	}
	return string(b), nil
}
