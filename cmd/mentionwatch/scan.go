package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/usecase"
	"github.com/mentionwatch/mentionwatch/internal/dom"
)

type scanOutput struct {
	Identity domain.Identity `json:"identity"`
	Events   []*domain.Event `json:"events"`
}

// newScanCmd runs one offline extraction against a saved Slack page
func newScanCmd() *cobra.Command {
	var (
		file, pageURL, title, user string
		since                      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Extract mentions from a saved Slack page and print them as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			html, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read page: %w", err)
			}
			snap, err := dom.Parse(dom.RawSnapshot{URL: pageURL, Title: title, HTML: string(html), Visible: true})
			if err != nil {
				return err
			}

			log := newLogger("warn", false)
			id := usecase.WithManualName(usecase.NewIdentityResolver(log).Resolve(snap), user)

			now := time.Now()
			var cursor domain.ScanCursor
			if since > 0 {
				cursor.LastCheckedAt = now.Add(-since)
			}
			events := usecase.NewExtractor(usecase.DefaultExtractorConfig(), log).
				Extract(snap, id, cursor, domain.ScanOptions{Now: now, Manual: true})
			if events == nil {
				events = []*domain.Event{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(scanOutput{Identity: id, Events: events})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Saved Slack page (HTML)")
	cmd.Flags().StringVar(&pageURL, "url", "https://app.slack.com/client", "URL the page was saved from")
	cmd.Flags().StringVar(&title, "title", "", "Page title, when the saved HTML has none")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Name to match when none can be detected from the page")
	cmd.Flags().DurationVar(&since, "since", 0, "Only report messages newer than this (default: all)")
	return cmd
}
