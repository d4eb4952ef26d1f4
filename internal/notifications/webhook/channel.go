package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"alertflow/internal/config"
	"alertflow/internal/external"
	"alertflow/internal/security"
	"alertflow/internal/types"
)

const maxResponseBodyRead = 4096

var _ types.ChannelAdapter = (*Adapter)(nil)

// Adapter delivers one HTTP channel type. The http.Client is expected to be
// SSRF-guarded; see security.Guard.NewHTTPClient.
type Adapter struct {
	channelType types.ChannelType
	formatter   Formatter
	signer      Signer
	httpClient  *http.Client
	validateURL types.SSRFValidator
	userAgent   string
	clock       types.Clock
	logger      types.Logger
}

// NewAdapter builds the adapter for t. validateURL may be nil, in which case
// only the scheme is checked when channels are saved.
func NewAdapter(t types.ChannelType, cfg config.WebhookConfig, httpClient *http.Client, validateURL types.SSRFValidator, logger types.Logger) (*Adapter, error) {
	formatter, ok := Formatters[t]
	if !ok {
		return nil, fmt.Errorf("webhook adapter: unsupported channel type %q", t)
	}
	if httpClient == nil {
		return nil, fmt.Errorf("webhook adapter: http client is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("webhook adapter: logger is nil")
	}
	return &Adapter{
		channelType: t,
		formatter:   formatter,
		httpClient:  httpClient,
		validateURL: validateURL,
		userAgent:   cfg.UserAgent,
		clock:       types.RealClock{},
		logger:      logger.With("channel_type", string(t)),
	}, nil
}

// NewAdapters builds one adapter per HTTP channel type over a shared client.
func NewAdapters(cfg config.WebhookConfig, httpClient *http.Client, validateURL types.SSRFValidator, logger types.Logger) ([]*Adapter, error) {
	var out []*Adapter
	for _, t := range ChannelTypes() {
		a, err := NewAdapter(t, cfg, httpClient, validateURL, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// SetClock overrides the clock used for signature timestamps.
func (a *Adapter) SetClock(c types.Clock) {
	a.clock = c
}

func (a *Adapter) Type() types.ChannelType {
	return a.channelType
}

// ValidateConfig requires an https "url". Slack and Teams URLs must point at
// their platform. Optional "headers" must be a string map.
func (a *Adapter) ValidateConfig(cfg types.ChannelConfig) error {
	url := cfg.String("url")
	if url == "" {
		return &types.ConfigurationError{Field: "channel_configuration.url", Reason: "is required"}
	}
	if !strings.HasPrefix(strings.ToLower(url), "https://") {
		return &types.ConfigurationError{Field: "channel_configuration.url", Reason: "must use https"}
	}
	if !hostMatches(a.channelType, url) {
		return &types.ConfigurationError{
			Field:  "channel_configuration.url",
			Reason: fmt.Sprintf("is not a %s webhook URL", a.channelType),
		}
	}
	if raw, ok := cfg["headers"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return &types.ConfigurationError{Field: "channel_configuration.headers", Reason: "must be an object"}
		}
		for k, v := range m {
			if _, ok := v.(string); !ok {
				return &types.ConfigurationError{Field: "channel_configuration.headers." + k, Reason: "must be a string"}
			}
		}
	}
	if a.validateURL != nil {
		if err := a.validateURL(url); err != nil {
			return &types.ConfigurationError{Field: "channel_configuration.url", Reason: err.Error()}
		}
	}
	return nil
}

// Send posts the payload. payload.Destination overrides the configured URL
// and payload.Raw, when set, is sent as the body unformatted.
func (a *Adapter) Send(ctx context.Context, ch *types.AlertChannel, payload *types.RenderedPayload) *types.DeliveryOutcome {
	var cfg types.ChannelConfig
	if ch != nil {
		cfg = ch.Config
	}
	destination := payload.Destination
	if destination == "" {
		destination = cfg.String("url")
	}
	if destination == "" {
		return permanent("missing destination url")
	}

	body := payload.Raw
	if body == nil {
		var err error
		if body, err = a.formatter.Format(payload, cfg); err != nil {
			return permanent("format: " + err.Error())
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return permanent("build request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", a.userAgent)
	if payload.DispatchID != "" {
		req.Header.Set("X-AlertFlow-Dispatch-ID", payload.DispatchID)
	}
	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if sig := a.signer.Sign(body, cfg, a.clock.Now()); sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if isSSRFError(err) {
			a.logger.Error("webhook destination blocked", "error", err.Error())
			return permanent("ssrf_blocked: " + err.Error())
		}
		a.logger.Warn("webhook network error", "error", err.Error())
		return &types.DeliveryOutcome{
			Status:        types.NotificationFailed,
			FailureReason: "network_error: " + err.Error(),
			Retryable:     true,
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return a.handle2xx(resp, respBody)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := external.RetryAfter(resp)
		a.logger.Warn("webhook rate limited", "retry_after", retryAfter.String())
		return &types.DeliveryOutcome{
			Status:        types.NotificationFailed,
			FailureReason: "rate_limited_429",
			Retryable:     true,
			RetryAfter:    retryAfter,
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		a.logger.Warn("webhook client error", "status", resp.StatusCode, "body", truncateBody(respBody))
		return permanent(fmt.Sprintf("client_error_%d: %s", resp.StatusCode, truncateBody(respBody)))
	default:
		a.logger.Warn("webhook server error", "status", resp.StatusCode, "body", truncateBody(respBody))
		return &types.DeliveryOutcome{
			Status:        types.NotificationFailed,
			FailureReason: fmt.Sprintf("server_error_%d: %s", resp.StatusCode, truncateBody(respBody)),
			Retryable:     true,
		}
	}
}

func (a *Adapter) handle2xx(resp *http.Response, body []byte) *types.DeliveryOutcome {
	acked, err := a.formatter.ValidateResponse(resp.StatusCode, body)
	if err != nil {
		a.logger.Warn("webhook soft failure on 2xx", "status", resp.StatusCode, "error", err.Error())
		return &types.DeliveryOutcome{
			Status:        types.NotificationFailed,
			FailureReason: "soft_failure: " + err.Error(),
			Retryable:     true,
		}
	}
	status := types.NotificationSent
	if acked {
		status = types.NotificationDelivered
	}
	return &types.DeliveryOutcome{
		Status:            status,
		ProviderMessageID: providerMessageID(resp, a.channelType),
	}
}

func providerMessageID(resp *http.Response, t types.ChannelType) string {
	if t == types.ChannelSlack {
		if id := resp.Header.Get("X-Slack-Req-Id"); id != "" {
			return id
		}
	}
	if id := resp.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d-%s", t, resp.StatusCode, uuid.NewString()[:8])
}

func permanent(reason string) *types.DeliveryOutcome {
	return &types.DeliveryOutcome{Status: types.NotificationFailed, FailureReason: reason}
}

func isSSRFError(err error) bool {
	return errors.Is(err, security.ErrBlockedAddress) ||
		errors.Is(err, security.ErrResolveTimeout) ||
		errors.Is(err, security.ErrResolveFailed) ||
		errors.Is(err, security.ErrTooManyRedirects) ||
		errors.Is(err, security.ErrInsecureScheme)
}
