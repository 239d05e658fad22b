package slacknotify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
)

var slackIDPattern = regexp.MustCompile(`^[CGD][A-Z0-9]{6,}$`)

func isLikelyChannelID(s string) bool {
	return slackIDPattern.MatchString(s)
}

// resolveChannel turns "#name", "name" or a channel id into a channel id,
// paging through the workspace's conversations when a name is given.
func resolveChannel(ctx context.Context, api *slack.Client, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("no slack channel configured")
	}
	if isLikelyChannelID(value) {
		return value, nil
	}
	name := strings.ToLower(strings.TrimPrefix(value, "#"))

	params := &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           200,
		Types:           []string{"public_channel", "private_channel"},
	}
	for {
		channels, cursor, err := api.GetConversationsContext(ctx, params)
		if err != nil {
			return "", fmt.Errorf("listing slack channels: %w", err)
		}
		for _, ch := range channels {
			if strings.ToLower(ch.Name) == name {
				return ch.ID, nil
			}
		}
		if cursor == "" {
			return "", fmt.Errorf("slack channel %q not found", value)
		}
		params.Cursor = cursor
	}
}
