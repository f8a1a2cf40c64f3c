// Package notify posts settlement pipeline reports to Slack.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/bonds/pipeline/pkg/settlements"
	"github.com/slack-go/slack"
	slackmdgo "github.com/snormore/slackmd/slackgo"
)

// maxErrorsPerReport bounds the error lines of one report in a message.
const maxErrorsPerReport = 10

// PostFunc posts a markdown message to a channel.
type PostFunc func(ctx context.Context, channel, markdown string) error

type SlackConfig struct {
	Logger  *slog.Logger
	Channel string
	// Client is used by the default Post.
	Client *slack.Client
	Post   PostFunc
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Channel == "" {
		return errors.New("channel is required")
	}
	if cfg.Post == nil {
		if cfg.Client == nil {
			return errors.New("client is required")
		}
		client := cfg.Client
		cfg.Post = func(ctx context.Context, channel, markdown string) error {
			_, err := slackmdgo.Post(ctx, client, channel, markdown, slackmdgo.WithFallbackText(markdown), slackmdgo.WithRetry(nil))
			return err
		}
	}
	return nil
}

type Slack struct {
	log *slog.Logger
	cfg SlackConfig
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Slack{log: cfg.Logger, cfg: cfg}, nil
}

// NewSlackClient builds a client from a bot token.
func NewSlackClient(botToken string) *slack.Client {
	return slack.New(botToken)
}

// Notify posts one message summarizing the reports.
func (s *Slack) Notify(ctx context.Context, title string, reports []*settlements.Report) error {
	msg := FormatReports(title, reports)
	if err := s.cfg.Post(ctx, s.cfg.Channel, msg); err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	s.log.Info("notify: posted report", "channel", s.cfg.Channel, "reports", len(reports))
	return nil
}

// FormatReports renders reports as markdown, one section per operation.
func FormatReports(title string, reports []*settlements.Report) string {
	var b strings.Builder
	status := "succeeded"
	for _, r := range reports {
		if !r.Succeeded() {
			status = "failed"
			break
		}
	}
	fmt.Fprintf(&b, "# %s %s\n", title, status)
	for _, r := range reports {
		fmt.Fprintf(&b, "\n## %s, epoch %d\n", r.Operation, r.Epoch)
		fmt.Fprintf(&b, "- run: `%s`\n", r.RunID)
		fmt.Fprintf(&b, "- processed: %d, skipped: %d, failed: %d\n", r.Processed, r.Skipped, r.Failed)
		fmt.Fprintf(&b, "- lamports: %d (%s SOL)\n", r.Lamports, formatSOL(r.Lamports))
		for i, e := range r.Errors {
			if i == maxErrorsPerReport {
				fmt.Fprintf(&b, "- ... and %d more errors\n", len(r.Errors)-maxErrorsPerReport)
				break
			}
			fmt.Fprintf(&b, "- error: %s\n", e)
		}
	}
	return b.String()
}

func formatSOL(lamports uint64) string {
	return fmt.Sprintf("%d.%09d", lamports/1_000_000_000, lamports%1_000_000_000)
}
