package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"alertflow/internal/types"
)

// Sender performs one bounded delivery attempt. Registry is the production
// implementation.
type Sender interface {
	Send(ctx context.Context, channel *types.AlertChannel, payload *types.RenderedPayload) *types.DeliveryOutcome
}

// ProviderSettings supplies per channel type timeouts and rate budgets.
type ProviderSettings interface {
	ProviderTimeout(channelType string) time.Duration
	ProviderRPM(channelType string) int
}

// Registry maps channel types to adapters and wraps every call with the
// provider's token bucket and timeout.
type Registry struct {
	adapters map[types.ChannelType]types.ChannelAdapter
	limiter  *ProviderLimiter
	settings ProviderSettings
	metrics  NotificationMetrics
	clock    types.Clock
	logger   types.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(settings ProviderSettings, limiter *ProviderLimiter, metrics NotificationMetrics, clock types.Clock, logger types.Logger) *Registry {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Registry{
		adapters: make(map[types.ChannelType]types.ChannelAdapter),
		limiter:  limiter,
		settings: settings,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
	}
}

// Register adds or replaces the adapter for its channel type.
func (r *Registry) Register(a types.ChannelAdapter) {
	r.adapters[a.Type()] = a
}

// Adapter returns the adapter for t.
func (r *Registry) Adapter(t types.ChannelType) (types.ChannelAdapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// Types lists the registered channel types in a stable order.
func (r *Registry) Types() []types.ChannelType {
	out := make([]types.ChannelType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateConfig checks a channel configuration against its adapter.
func (r *Registry) ValidateConfig(t types.ChannelType, cfg types.ChannelConfig) error {
	a, ok := r.adapters[t]
	if !ok {
		return &types.ConfigurationError{Field: "channel_type", Reason: fmt.Sprintf("unsupported channel type %q", t)}
	}
	if err := a.ValidateConfig(cfg); err != nil {
		var ce *types.ConfigurationError
		if errors.As(err, &ce) {
			return err
		}
		return &types.ConfigurationError{Field: "channel_configuration", Reason: err.Error()}
	}
	return nil
}

// Send delivers through the channel's adapter. It never blocks past the
// provider timeout once a rate token is held, and never returns nil.
// The channel's test_status is not consulted.
func (r *Registry) Send(ctx context.Context, ch *types.AlertChannel, payload *types.RenderedPayload) *types.DeliveryOutcome {
	adapter, ok := r.adapters[ch.ChannelType]
	if !ok {
		return &types.DeliveryOutcome{
			Status:        types.NotificationFailed,
			FailureReason: fmt.Sprintf("no adapter registered for channel type %q", ch.ChannelType),
		}
	}

	key, rpm := r.bucketFor(ch)
	if err := r.limiter.Wait(ctx, key, rpm); err != nil {
		return &types.DeliveryOutcome{
			Status:        types.NotificationFailed,
			FailureReason: "rate limit wait aborted: " + err.Error(),
			Retryable:     true,
		}
	}

	timeout := r.settings.ProviderTimeout(string(ch.ChannelType))
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.clock.Now()
	done := make(chan *types.DeliveryOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- &types.DeliveryOutcome{
					Status:        types.NotificationFailed,
					FailureReason: fmt.Sprintf("adapter panic: %v", rec),
				}
			}
		}()
		done <- adapter.Send(callCtx, ch, payload)
	}()

	var outcome *types.DeliveryOutcome
	select {
	case outcome = <-done:
	case <-callCtx.Done():
		outcome = nil
	}
	r.metrics.RecordLatency(ctx, ch.ChannelType, r.clock.Now().Sub(start))

	if !outcome.Succeeded() && ctx.Err() != nil {
		return &types.DeliveryOutcome{
			Status:        types.NotificationFailed,
			FailureReason: "send cancelled: " + ctx.Err().Error(),
		}
	}
	if outcome == nil || (!outcome.Succeeded() && errors.Is(callCtx.Err(), context.DeadlineExceeded)) {
		terr := &types.TimeoutError{Op: string(ch.ChannelType) + " send", After: timeout}
		return &types.DeliveryOutcome{
			Status:        types.NotificationFailed,
			FailureReason: terr.Error(),
			Retryable:     true,
		}
	}
	if outcome.Status == "" {
		outcome.Status = types.NotificationFailed
	}
	return outcome
}

// bucketFor uses the channel's own rate_limits when set, otherwise the
// provider-wide budget for the channel type.
func (r *Registry) bucketFor(ch *types.AlertChannel) (string, int) {
	if rpm := ch.Config.RequestsPerMinute(); rpm > 0 {
		return "channel:" + ch.ID, rpm
	}
	return "provider:" + string(ch.ChannelType), r.settings.ProviderRPM(string(ch.ChannelType))
}
