// Package mcp exposes the mention store to MCP clients over stdio. Every
// tool is a thin call into the daemon's HTTP API.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients
const Version = "v1.0.0"

// Server provides the mention tools
type Server struct {
	server *mcp.Server
	client *Client
}

// NewServer creates the MCP server and registers its tools
func NewServer(client *Client) *Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mentionwatch",
		Version: Version,
	}, nil)

	s := &Server{server: server, client: client}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_mentions",
		Description: "List the unanswered Slack mentions and direct messages, newest first.",
	}, s.handleListMentions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "dismiss_mention",
		Description: "Remove a mention from the list without replying.",
	}, s.handleDismissMention)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "open_mention",
		Description: "Dismiss a mention and navigate the Slack tab to its message.",
	}, s.handleOpenMention)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "check_mentions",
		Description: "Scan every connected Slack tab now, including messages older than the last scan.",
	}, s.handleCheckMentions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "send_reply",
		Description: "Type a reply to a mention, in its thread when it has one. Every mention in that thread is resolved.",
	}, s.handleSendReply)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_identity",
		Description: "Show the Slack user name mentions are matched against, and whether a tab is waiting on the Slack sign-in screen.",
	}, s.handleGetIdentity)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_username",
		Description: "Override the detected Slack user name. An empty name clears the override.",
	}, s.handleSetUsername)
}

// Run serves MCP over stdin and stdout
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying server
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
