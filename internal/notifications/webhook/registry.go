package webhook

import (
	"strings"

	"alertflow/internal/types"
)

// Formatters maps each HTTP channel type to its payload formatter.
var Formatters = map[types.ChannelType]Formatter{
	types.ChannelWebhook: GenericFormatter{},
	types.ChannelSlack:   SlackFormatter{},
	types.ChannelTeams:   TeamsFormatter{},
	types.ChannelZapier:  ZapierFormatter{},
	types.ChannelN8N:     N8NFormatter{},
}

// ChannelTypes lists the types served by this package.
func ChannelTypes() []types.ChannelType {
	return []types.ChannelType{
		types.ChannelWebhook, types.ChannelSlack, types.ChannelTeams,
		types.ChannelZapier, types.ChannelN8N,
	}
}

// expectedHosts guards against pasting one platform's URL into another
// platform's channel.
var expectedHosts = map[types.ChannelType][]string{
	types.ChannelSlack: {"hooks.slack.com"},
	types.ChannelTeams: {".webhook.office.com", ".logic.azure.com", ".environment.api.powerplatform.com"},
}

func hostMatches(t types.ChannelType, url string) bool {
	patterns, ok := expectedHosts[t]
	if !ok {
		return true
	}
	lower := strings.ToLower(url)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// CheckDeprecation reports platform lifecycle warnings for a destination URL.
// The API surfaces these when channels are saved or tested.
func CheckDeprecation(url string) (warning string, deprecated bool) {
	if strings.Contains(strings.ToLower(url), ".webhook.office.com") {
		return "Teams Office 365 connectors are retired. Migrate to a Power Automate workflow URL.", true
	}
	return "", false
}
