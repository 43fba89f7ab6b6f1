package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mentionwatch/mentionwatch/internal/conf"
	"github.com/mentionwatch/mentionwatch/internal/mcp"
)

// newMCPCmd serves the mention tools over stdio. It needs a running daemon.
func newMCPCmd() *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the mention tools to an MCP client over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiURL == "" {
				cfg, err := conf.LoadFromEnv()
				if err != nil {
					return err
				}
				apiURL = cfg.APIURL
			}
			log := newLogger("info", false)
			log.Info().Str("api", apiURL).Msg("serving MCP on stdio")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return mcp.NewServer(mcp.NewClient(apiURL)).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "", "Daemon API base URL (default MENTIONWATCH_API_URL)")
	return cmd
}
