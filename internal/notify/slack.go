package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// SlackConfig holds Slack notifier settings.
type SlackConfig struct {
	Token   string
	Channel string
	APIURL  string // optional, for tests or proxies; must end in "/"
}

// Slack posts poll summaries to one channel.
type Slack struct {
	api     *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlack creates a Slack notifier. No request is made until Notify.
func NewSlack(cfg SlackConfig, logger *slog.Logger) (*Slack, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("slack: token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{
		api:     slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
		logger:  logger,
	}, nil
}

// Notify posts the report summary.
func (s *Slack) Notify(ctx context.Context, report *protocol.PollReport) error {
	text := ToMrkdwn(Summary(report))

	_, ts, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	s.logger.Debug("slack notification sent", "channel", s.channel, "ts", ts, "poll", report.ID)
	return nil
}
