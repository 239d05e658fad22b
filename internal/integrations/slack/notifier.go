// Package slacknotify reports enrichment progress to a Slack channel. Each
// project gets one message that is edited in place as the stages advance.
package slacknotify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"workflowaudit/internal/forensic"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// minPercentStep is how far progress must move within a stage before the
// message is edited again.
const minPercentStep = 10

type Notifier struct {
	api     *slack.Client
	channel string
	project string
	logger  *zap.Logger

	mu          sync.Mutex
	channelID   string
	ts          string
	lastStage   string
	lastPercent int
}

// New returns a notifier for one project run. channel is an id or a name.
func New(api *slack.Client, channel, project string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{api: api, channel: channel, project: project, logger: logger, lastPercent: -1}
}

// Report posts the first update and edits that message afterwards. Updates
// inside the same stage that moved less than minPercentStep are dropped.
func (n *Notifier) Report(ctx context.Context, p forensic.Progress) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if p.Stage == n.lastStage && p.Percent < 100 && p.Percent-n.lastPercent < minPercentStep {
		return nil
	}
	if n.channelID == "" {
		id, err := resolveChannel(ctx, n.api, n.channel)
		if err != nil {
			return err
		}
		n.channelID = id
	}

	text := formatProgress(n.project, p)
	if n.ts == "" {
		_, ts, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false))
		if err != nil {
			return fmt.Errorf("posting progress: %w", err)
		}
		n.ts = ts
	} else {
		if _, _, _, err := n.api.UpdateMessageContext(ctx, n.channelID, n.ts, slack.MsgOptionText(text, false)); err != nil {
			return fmt.Errorf("updating progress: %w", err)
		}
	}
	n.lastStage = p.Stage
	n.lastPercent = p.Percent
	n.logger.Debug("slack progress sent", zap.String("project", n.project), zap.String("stage", p.Stage), zap.Int("percent", p.Percent))
	return nil
}

const barWidth = 20

func formatProgress(project string, p forensic.Progress) string {
	percent := min(max(p.Percent, 0), 100)
	filled := percent * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	stage := strings.ReplaceAll(p.Stage, "_", " ")

	var b strings.Builder
	fmt.Fprintf(&b, "*Workflow audit* `%s`\n%s %d%% %s", project, bar, percent, stage)
	if p.Detail != "" {
		fmt.Fprintf(&b, " (%s)", p.Detail)
	}
	return b.String()
}

// PostText sends a one-off message, such as a re-enrichment summary, to
// channel.
func PostText(ctx context.Context, api *slack.Client, channel, text string) error {
	id, err := resolveChannel(ctx, api, channel)
	if err != nil {
		return err
	}
	if _, _, err := api.PostMessageContext(ctx, id, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	return nil
}
