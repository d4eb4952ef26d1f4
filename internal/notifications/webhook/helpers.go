package webhook

import (
	"strings"
	"time"

	"alertflow/internal/types"
)

func severityLabel(s types.Severity) string {
	return strings.ToUpper(string(s))
}

// slackEmoji prefixes headers so severity is visible in notifications.
func slackEmoji(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return ":rotating_light:"
	case types.SeverityHigh:
		return ":red_circle:"
	case types.SeverityMedium:
		return ":large_orange_circle:"
	default:
		return ":large_blue_circle:"
	}
}

// teamsColor maps severity onto Adaptive Card text colors.
func teamsColor(s types.Severity) string {
	switch s {
	case types.SeverityCritical, types.SeverityHigh:
		return "Attention"
	case types.SeverityMedium:
		return "Warning"
	default:
		return "Accent"
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// truncateBody shortens response bodies quoted in failure reasons.
func truncateBody(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// headerText keeps Slack header blocks within their 150 character limit.
func headerText(s string) string {
	const maxLen = 150
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
