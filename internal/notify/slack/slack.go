// Package slack delivers CRITICAL/HIGH reconciliation alerts to a Slack
// channel as an optional sink, grounded in original_source's alert dispatch
// (app/services/alerting.py posts a formatted message once a qualifying
// Alert is persisted). The teacher repo's go.mod carries slack-go/slack as
// a dependency but its copied tree has no call site to mirror; this
// package's wiring of slack.New/PostMessageContext instead follows that
// SDK's own documented usage, with transport tuning reused from
// internal/shared/httpclient.SlackClientConfig.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/P4R1H/affiliate-platform/internal/config"
	httpclient "github.com/P4R1H/affiliate-platform/internal/shared/httpclient"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

var severityRank = map[domain.AlertSeverity]int{
	domain.SeverityLow:      0,
	domain.SeverityMedium:   1,
	domain.SeverityHigh:     2,
	domain.SeverityCritical: 3,
}

// Client posts alerts to a single configured Slack channel. It is nil-safe
// as a method receiver is never required to be present: callers that build
// a Notifier only when cfg.Slack.Enabled get a real sink, everyone else
// skips construction entirely.
type Client struct {
	api         *slack.Client
	channel     string
	minSeverity int
}

// New builds a Client from SlackConfig. It returns an error if MinSeverity
// isn't one of the known AlertSeverity values, since a typo'd config value
// would otherwise silently suppress (or never suppress) every alert.
func New(cfg config.SlackConfig) (*Client, error) {
	rank, ok := severityRank[domain.AlertSeverity(cfg.MinSeverity)]
	if !ok {
		return nil, fmt.Errorf("slack: unknown min_severity %q", cfg.MinSeverity)
	}
	httpClient := httpclient.NewClient(httpclient.SlackClientConfig())
	return &Client{
		api:         slack.New(cfg.BotToken, slack.OptionHTTPClient(httpClient)),
		channel:     cfg.Channel,
		minSeverity: rank,
	}, nil
}

// Notify posts alert as a Slack message if its severity meets the
// configured floor. Alerts below the floor are silently skipped, not an
// error: the caller should persist the alert regardless of whether it gets
// paged out to Slack.
func (c *Client) Notify(ctx context.Context, alert *domain.Alert) error {
	if c == nil || alert == nil {
		return nil
	}
	rank, ok := severityRank[alert.Severity]
	if !ok || rank < c.minSeverity {
		return nil
	}

	_, _, err := c.api.PostMessageContext(ctx, c.channel,
		slack.MsgOptionText(format(alert), false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func format(alert *domain.Alert) string {
	return fmt.Sprintf(":rotating_light: *[%s] %s*\n%s\n_category: %s · affiliate: %s · platform: %s_",
		alert.Severity, alert.Title, alert.Message, alert.Category, alert.AffiliateID, alert.PlatformID)
}
