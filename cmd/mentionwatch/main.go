package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mentionwatch/mentionwatch/internal/logger"
)

var (
	debug    bool
	logLevel string
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd constructs the root command
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mentionwatch",
		Short:         "Watch Slack tabs for mentions and direct messages",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Human readable debug logging")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides MENTIONWATCH_LOG_LEVEL)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newNotifyCmd())
	return root
}

// newLogger builds the root logger from flags, falling back to the
// configured level
func newLogger(configured string, configuredDebug bool) zerolog.Logger {
	level := configured
	if logLevel != "" {
		level = logLevel
	}
	console := debug || configuredDebug
	if debug && logLevel == "" {
		level = "debug"
	}
	return logger.New("mentionwatch", level, console)
}
