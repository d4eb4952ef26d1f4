package core

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"alertflow/internal/types"
)

// Resolution is the outcome of preference filtering for one recipient.
type Resolution struct {
	Allowed []types.ChannelType
	// Dropped maps each excluded candidate to the reason, written to the
	// skipped audit row.
	Dropped map[types.ChannelType]string
}

// IsAllowed reports whether t survived filtering.
func (r Resolution) IsAllowed(t types.ChannelType) bool {
	return slices.Contains(r.Allowed, t)
}

// PreferenceResolver narrows an organization's channel selection by a user's
// preferences. It never adds a channel type that is not a candidate.
type PreferenceResolver struct {
	muteBypass types.Severity
	dndBypass  types.Severity
	clock      types.Clock
	logger     types.Logger
}

// NewPreferenceResolver creates a resolver. Severities at or above muteBypass
// ignore mute_alerts; at or above dndBypass they ignore DND windows.
func NewPreferenceResolver(muteBypass, dndBypass types.Severity, clock types.Clock, logger types.Logger) *PreferenceResolver {
	return &PreferenceResolver{
		muteBypass: muteBypass,
		dndBypass:  dndBypass,
		clock:      clock,
		logger:     logger,
	}
}

// Resolve applies, in order: mute, DND windows, severity threshold, and the
// blocked/preferred lists. prefs may be nil, in which case every candidate
// passes.
func (r *PreferenceResolver) Resolve(prefs *types.UserNotificationPreferences, severity types.Severity, candidates []types.ChannelType) Resolution {
	res := Resolution{Dropped: make(map[types.ChannelType]string)}
	remaining := dedupeTypes(candidates)

	if prefs == nil {
		res.Allowed = remaining
		return res
	}

	drop := func(t types.ChannelType, reason string) {
		if _, already := res.Dropped[t]; !already {
			res.Dropped[t] = reason
		}
	}
	filter := func(keep func(types.ChannelType) (bool, string)) {
		next := remaining[:0:0]
		for _, t := range remaining {
			if ok, reason := keep(t); ok {
				next = append(next, t)
			} else {
				drop(t, reason)
			}
		}
		remaining = next
	}

	// 1. Mute.
	if prefs.MuteAlerts && !severity.AtLeast(r.muteBypass) {
		filter(func(types.ChannelType) (bool, string) { return false, "recipient muted alerts" })
	}

	// 2. Do-not-disturb.
	if len(prefs.DoNotDisturb) > 0 && !severity.AtLeast(r.dndBypass) {
		quiet := r.quietTypes(prefs)
		filter(func(t types.ChannelType) (bool, string) {
			if window, ok := quiet[t]; ok {
				return false, "do-not-disturb window " + window
			}
			return true, ""
		})
	}

	// 3. Severity threshold.
	if prefs.SeverityThreshold.Valid() && !severity.AtLeast(prefs.SeverityThreshold) {
		reason := fmt.Sprintf("severity %s below recipient threshold %s", severity, prefs.SeverityThreshold)
		filter(func(types.ChannelType) (bool, string) { return false, reason })
	}

	// 4. Blocked always wins; preferred only narrows, and only with override.
	filter(func(t types.ChannelType) (bool, string) {
		if slices.Contains(prefs.BlockedChannels, t) {
			return false, "channel type blocked by recipient"
		}
		if prefs.OverrideOrgRouting && len(prefs.PreferredChannels) > 0 && !slices.Contains(prefs.PreferredChannels, t) {
			return false, "channel type not in recipient preferred channels"
		}
		return true, ""
	})

	res.Allowed = remaining
	return res
}

// quietTypes returns the candidate types silenced by an active DND window,
// mapped to the window label. A malformed window is ignored (fail open).
func (r *PreferenceResolver) quietTypes(prefs *types.UserNotificationPreferences) map[types.ChannelType]string {
	out := make(map[types.ChannelType]string)
	for _, w := range prefs.DoNotDisturb {
		active, err := windowActive(w, r.clock.Now())
		if err != nil {
			r.logger.Warn("ignoring malformed do-not-disturb window",
				"user_id", prefs.UserID,
				"error", err.Error(),
			)
			continue
		}
		if !active {
			continue
		}
		label := fmt.Sprintf("%s-%s", w.Start, w.End)
		if len(w.ChannelTypes) == 0 {
			for _, t := range types.AllChannelTypes {
				out[t] = label
			}
			continue
		}
		for _, t := range w.ChannelTypes {
			out[t] = label
		}
	}
	return out
}

// windowActive reports whether now falls inside w, evaluated in w's timezone.
// For overnight windows the weekday is the day the window started.
func windowActive(w types.DNDWindow, now time.Time) (bool, error) {
	loc := time.UTC
	if w.Timezone != "" {
		l, err := time.LoadLocation(w.Timezone)
		if err != nil {
			return false, fmt.Errorf("invalid timezone %q: %w", w.Timezone, err)
		}
		loc = l
	}
	start, err := parseTimeOfDay(w.Start)
	if err != nil {
		return false, err
	}
	end, err := parseTimeOfDay(w.End)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	nowMin := local.Hour()*60 + local.Minute()
	today := strings.ToLower(local.Weekday().String())
	yesterday := strings.ToLower(local.AddDate(0, 0, -1).Weekday().String())

	if start.toMinutes() <= end.toMinutes() {
		return dayMatches(w.Days, today) && nowMin >= start.toMinutes() && nowMin < end.toMinutes(), nil
	}
	// Overnight, e.g. 22:00-06:00.
	if nowMin >= start.toMinutes() {
		return dayMatches(w.Days, today), nil
	}
	if nowMin < end.toMinutes() {
		return dayMatches(w.Days, yesterday), nil
	}
	return false, nil
}

type timeOfDay struct {
	hour   int
	minute int
}

func (t timeOfDay) toMinutes() int {
	return t.hour*60 + t.minute
}

// parseTimeOfDay parses "HH:MM".
func parseTimeOfDay(s string) (timeOfDay, error) {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return timeOfDay{}, fmt.Errorf("expected HH:MM format, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return timeOfDay{}, fmt.Errorf("time out of range: %q", s)
	}
	return timeOfDay{hour: h, minute: m}, nil
}

// dayMatches compares case-insensitively. An empty list matches every day.
func dayMatches(days []string, currentDay string) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if strings.EqualFold(d, currentDay) || strings.EqualFold(d, currentDay[:3]) {
			return true
		}
	}
	return false
}

func dedupeTypes(in []types.ChannelType) []types.ChannelType {
	out := make([]types.ChannelType, 0, len(in))
	for _, t := range in {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

var weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// ValidatePreferences checks a preferences record before it is saved.
func ValidatePreferences(p *types.UserNotificationPreferences) error {
	known := func(t types.ChannelType) bool { return slices.Contains(types.AllChannelTypes, t) }

	for _, t := range p.PreferredChannels {
		if !known(t) {
			return &types.ConfigurationError{Field: "preferred_channels", Reason: fmt.Sprintf("unknown channel type %q", t)}
		}
	}
	for _, t := range p.BlockedChannels {
		if !known(t) {
			return &types.ConfigurationError{Field: "blocked_channels", Reason: fmt.Sprintf("unknown channel type %q", t)}
		}
	}
	if p.SeverityThreshold != "" && !p.SeverityThreshold.Valid() {
		return &types.ConfigurationError{Field: "severity_threshold", Reason: fmt.Sprintf("unknown severity %q", p.SeverityThreshold)}
	}
	for t := range p.Contacts {
		if !t.IsPersonal() {
			return &types.ConfigurationError{Field: "contacts", Reason: fmt.Sprintf("contacts are only supported for email and sms, got %q", t)}
		}
	}
	for i, w := range p.DoNotDisturb {
		field := fmt.Sprintf("do_not_disturb_windows[%d]", i)
		if _, err := parseTimeOfDay(w.Start); err != nil {
			return &types.ConfigurationError{Field: field + ".start", Reason: err.Error()}
		}
		if _, err := parseTimeOfDay(w.End); err != nil {
			return &types.ConfigurationError{Field: field + ".end", Reason: err.Error()}
		}
		if w.Start == w.End {
			return &types.ConfigurationError{Field: field, Reason: "start and end must differ"}
		}
		if w.Timezone != "" {
			if _, err := time.LoadLocation(w.Timezone); err != nil {
				return &types.ConfigurationError{Field: field + ".timezone", Reason: err.Error()}
			}
		}
		for _, d := range w.Days {
			if !slices.ContainsFunc(weekdays, func(wd string) bool {
				return strings.EqualFold(d, wd) || strings.EqualFold(d, wd[:3])
			}) {
				return &types.ConfigurationError{Field: field + ".days", Reason: fmt.Sprintf("unknown weekday %q", d)}
			}
		}
		for _, t := range w.ChannelTypes {
			if !known(t) {
				return &types.ConfigurationError{Field: field + ".channel_types", Reason: fmt.Sprintf("unknown channel type %q", t)}
			}
		}
	}
	return nil
}
