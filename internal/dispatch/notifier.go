package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"alertflow/internal/notifications/core"
	"alertflow/internal/types"
)

// maxConcurrentSends bounds the deliveries of one fan-out.
const maxConcurrentSends = 8

// Notifier fans a rendered payload out to channels and recipients. It is
// shared by send_notification actions and escalation steps.
type Notifier struct {
	channels    ChannelSource
	preferences PreferenceSource
	resolver    PreferenceResolver
	pipeline    Deliverer
	disabled    map[types.ChannelType]bool
	logger      types.Logger
}

// NewNotifier creates a Notifier. Channel types in disabled are skipped.
func NewNotifier(channels ChannelSource, preferences PreferenceSource, resolver PreferenceResolver, pipeline Deliverer, disabled map[types.ChannelType]bool, logger types.Logger) *Notifier {
	return &Notifier{
		channels:    channels,
		preferences: preferences,
		resolver:    resolver,
		pipeline:    pipeline,
		disabled:    disabled,
		logger:      logger,
	}
}

// fanOutRequest describes one notification round.
type fanOutRequest struct {
	source     string
	channelIDs []string
	recipients []string
	payload    *types.RenderedPayload
}

// FanOutResult counts terminal audit rows by outcome.
type FanOutResult struct {
	Delivered int
	Failed    int
	Skipped   int
}

// Err is non-nil when at least one delivery failed and none succeeded.
func (r FanOutResult) Err() error {
	if r.Failed > 0 && r.Delivered == 0 {
		return fmt.Errorf("all %d deliveries failed", r.Failed)
	}
	return nil
}

// fanOut writes one audit row per (channel, recipient). Without recipients
// each channel is addressed once using its own destination.
func (n *Notifier) fanOut(ctx context.Context, run *dispatchRun, req fanOutRequest) (FanOutResult, error) {
	var res FanOutResult
	d := run.dispatch
	base := core.Target{
		DispatchID:     d.ID,
		OrganizationID: d.OrganizationID,
		Source:         req.source,
		Severity:       run.event.Severity,
		Payload:        req.payload,
	}
	logger := run.logger.With("source", req.source)

	channels, err := n.channels.GetByIDs(ctx, d.OrganizationID, req.channelIDs)
	if err != nil {
		err = fmt.Errorf("load channels: %w", err)
		res.Failed = n.recordLoadFailure(ctx, logger, base, req, err)
		return res, err
	}

	var active []*types.AlertChannel
	seen := make(map[string]bool, len(req.channelIDs))
	for _, id := range req.channelIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		ch, ok := channels[id]
		reason := ""
		switch {
		case !ok:
			ch = &types.AlertChannel{ID: id, OrganizationID: d.OrganizationID, ChannelType: "unknown"}
			reason = "channel not found"
		case !ch.IsActive:
			reason = "channel inactive"
		case n.disabled[ch.ChannelType]:
			reason = "channel type disabled"
		}
		if reason != "" {
			recipients := req.recipients
			if len(recipients) == 0 {
				recipients = []string{""}
			}
			for _, rcpt := range recipients {
				t := base
				t.Channel, t.Recipient = ch, rcpt
				n.skip(ctx, logger, t, reason)
				res.Skipped++
			}
			continue
		}
		active = append(active, ch)
	}

	var targets []core.Target
	if len(req.recipients) == 0 {
		for _, ch := range active {
			t := base
			t.Channel = ch
			targets = append(targets, t)
		}
	} else {
		prefs, err := n.preferences.GetMany(ctx, d.OrganizationID, req.recipients)
		if err != nil {
			// Deliver with organization routing rather than dropping alerts.
			logger.Warn("failed to load preferences, using organization routing", "error", err.Error())
			prefs = map[string]*types.UserNotificationPreferences{}
		}
		candidates := make([]types.ChannelType, 0, len(active))
		for _, ch := range active {
			candidates = append(candidates, ch.ChannelType)
		}
		for _, rcpt := range uniqueStrings(req.recipients) {
			p := prefs[rcpt]
			resolution := n.resolver.Resolve(p, run.event.Severity, candidates)
			for _, ch := range active {
				t := base
				t.Channel, t.Recipient = ch, rcpt
				if !resolution.IsAllowed(ch.ChannelType) {
					n.skip(ctx, logger, t, resolution.Dropped[ch.ChannelType])
					res.Skipped++
					continue
				}
				if ch.ChannelType.IsPersonal() && p != nil {
					if contact := p.Contacts[ch.ChannelType]; contact != "" {
						payload := *req.payload
						payload.Destination = contact
						t.Payload = &payload
					}
				}
				targets = append(targets, t)
			}
		}
	}

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(maxConcurrentSends)
	for _, t := range targets {
		g.Go(func() error {
			row, err := n.pipeline.Deliver(ctx, t)
			if err != nil {
				logger.Error("delivery audit write failed", "channel_id", t.Channel.ID, "error", err.Error())
				failed.Add(1)
				return nil
			}
			if row.Status == types.NotificationSent || row.Status == types.NotificationDelivered {
				delivered.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Delivered = int(delivered.Load())
	res.Failed = int(failed.Load())
	return res, nil
}

// recordLoadFailure writes a failed row per (channel, recipient) when the
// channels could not be loaded, and returns the number of rows.
func (n *Notifier) recordLoadFailure(ctx context.Context, logger types.Logger, base core.Target, req fanOutRequest, loadErr error) int {
	recipients := uniqueStrings(req.recipients)
	if len(recipients) == 0 {
		recipients = []string{""}
	}
	rows := 0
	for _, id := range uniqueStrings(req.channelIDs) {
		for _, rcpt := range recipients {
			t := base
			t.Channel = &types.AlertChannel{ID: id, OrganizationID: base.OrganizationID, ChannelType: "unknown"}
			t.Recipient = rcpt
			if _, err := n.pipeline.Record(context.WithoutCancel(ctx), t, "unknown", loadErr); err != nil {
				logger.Error("failed to record undelivered notification", "channel_id", id, "recipient", rcpt, "error", err.Error())
			}
			rows++
		}
	}
	return rows
}

func (n *Notifier) skip(ctx context.Context, logger types.Logger, t core.Target, reason string) {
	if reason == "" {
		reason = "excluded by preferences"
	}
	if _, err := n.pipeline.Skip(ctx, t, reason); err != nil {
		logger.Error("failed to record skipped notification", "channel_id", t.Channel.ID, "recipient", t.Recipient, "error", err.Error())
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
