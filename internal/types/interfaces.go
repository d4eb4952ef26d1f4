package types

import (
	"context"
	"time"
)

// SSRFValidator checks if a webhook URL is safe to call.
type SSRFValidator func(url string) error

// ChannelAdapter delivers a rendered payload over one channel type.
// Implementations own their wire protocol; the registry owns timeouts and
// rate limiting.
type ChannelAdapter interface {
	// Type returns the channel type served by the adapter.
	Type() ChannelType

	// ValidateConfig checks channel_configuration when a channel is saved.
	ValidateConfig(config ChannelConfig) error

	// Send performs one delivery attempt. It never panics and always returns
	// an outcome; a nil error is not required for failed outcomes.
	Send(ctx context.Context, channel *AlertChannel, payload *RenderedPayload) *DeliveryOutcome
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Sleeper waits for a duration unless the context ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper implements Sleeper with a timer.
type RealSleeper struct{}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in that case.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Logger defines the structured logging interface used throughout the service.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
