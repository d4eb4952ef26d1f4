// Package config defines the process configuration for the alertflow engine.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
package config

import (
	"time"

	"alertflow/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the sections they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"alertflow-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	NATS          NATSConfig
	MQTT          MQTTConfig
	AWS           AWSConfig
	Email         EmailConfig
	SMS           SMSConfig
	Webhook       WebhookConfig
	Collaborators CollaboratorConfig
	Engine        EngineConfig
	Retention     RetentionConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	Feature       FeatureConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	// RateLimitPerMinute caps requests per client IP; 0 disables the limiter.
	RateLimitPerMinute int `envconfig:"HTTP_RATE_LIMIT_PER_MINUTE" default:"600" validate:"gte=0"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig backs event de-duplication, cooldowns and the ack bus.
// An empty address runs the engine single-instance with in-memory stand-ins.
type RedisConfig struct {
	Addr       string        `envconfig:"REDIS_ADDR"`
	Password   SecretString  `envconfig:"REDIS_PASSWORD"`
	DB         int           `envconfig:"REDIS_DB" default:"0"`
	DedupeTTL  time.Duration `envconfig:"EVENT_DEDUPE_TTL" default:"24h"`
	AckChannel string        `envconfig:"REDIS_ACK_CHANNEL" default:"alertflow:acks"`
}

// NATSConfig configures the JetStream event consumer.
type NATSConfig struct {
	URL      string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	Stream   string `envconfig:"NATS_STREAM" default:"EVENTS"`
	Subject  string `envconfig:"NATS_SUBJECT" default:"events.>"`
	Consumer string `envconfig:"NATS_CONSUMER" default:"alertflow-engine"`
}

// MQTTConfig configures the IoT command bus.
type MQTTConfig struct {
	Broker         string        `envconfig:"MQTT_BROKER" default:"tcp://127.0.0.1:1883"`
	ClientID       string        `envconfig:"MQTT_CLIENT_ID" default:"alertflow-engine"`
	Username       string        `envconfig:"MQTT_USERNAME"`
	Password       SecretString  `envconfig:"MQTT_PASSWORD"`
	QoS            byte          `envconfig:"MQTT_QOS" default:"1" validate:"lte=2"`
	ConnectTimeout time.Duration `envconfig:"MQTT_CONNECT_TIMEOUT" default:"10s"`
	TopicPrefix    string        `envconfig:"MQTT_TOPIC_PREFIX" default:"alertflow/devices"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// EventQueueURL enables the SQS event consumer when set.
	EventQueueURL string `envconfig:"SQS_EVENTS"`
	// ReportQueueURL receives exhausted-escalation and anomaly reports.
	ReportQueueURL string `envconfig:"SQS_REPORTS"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds email delivery provider settings.
type EmailConfig struct {
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"ses" validate:"oneof=ses sendgrid"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"alerts@alertflow.local" validate:"email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"AlertFlow"`
	SESConfigSet   string       `envconfig:"SES_CONFIGURATION_SET"`
}

// SMSConfig holds SNS SMS settings.
type SMSConfig struct {
	SenderID string `envconfig:"SMS_SENDER_ID" default:"ALERTFLOW" validate:"max=11"`
	MaxChars int    `envconfig:"SMS_MAX_CHARS" default:"480"`
}

// WebhookConfig holds settings for outbound webhook delivery.
type WebhookConfig struct {
	UserAgent    string `envconfig:"WEBHOOK_USER_AGENT" default:"AlertFlow-Webhook/1.0"`
	MaxRedirects int    `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3"`
}

// CollaboratorConfig points at the external services behind create_task and
// log_incident actions.
type CollaboratorConfig struct {
	TaskServiceURL     string        `envconfig:"TASK_SERVICE_URL" validate:"omitempty,url"`
	TaskServiceToken   SecretString  `envconfig:"TASK_SERVICE_TOKEN"`
	IncidentServiceURL string        `envconfig:"INCIDENT_SERVICE_URL" validate:"omitempty,url"`
	IncidentToken      SecretString  `envconfig:"INCIDENT_SERVICE_TOKEN"`
	Timeout            time.Duration `envconfig:"COLLABORATOR_TIMEOUT" default:"10s"`
}

// EngineConfig tunes dispatch execution.
type EngineConfig struct {
	RetryMaxAttempts int           `envconfig:"DELIVERY_MAX_ATTEMPTS" default:"3" validate:"gte=1"`
	RetryBaseDelay   time.Duration `envconfig:"DELIVERY_RETRY_BASE" default:"2s"`
	RetryMaxDelay    time.Duration `envconfig:"DELIVERY_RETRY_MAX" default:"30s"`

	// AdapterTimeout bounds one adapter call; ProviderTimeouts overrides it per channel type.
	AdapterTimeout   time.Duration            `envconfig:"ADAPTER_TIMEOUT" default:"10s"`
	ProviderTimeouts map[string]time.Duration `envconfig:"PROVIDER_TIMEOUTS"`

	// DefaultRequestsPerMinute applies to providers without an entry in ProviderRateLimits.
	DefaultRequestsPerMinute int            `envconfig:"PROVIDER_DEFAULT_RPM" default:"120" validate:"gte=1"`
	ProviderRateLimits       map[string]int `envconfig:"PROVIDER_RATE_LIMITS"`

	GracePeriod          time.Duration `envconfig:"DISPATCH_GRACE_PERIOD" default:"5m"`
	FinalAckWindow       time.Duration `envconfig:"ESCALATION_FINAL_ACK_WINDOW" default:"15m"`
	AckTimeout           time.Duration `envconfig:"ACK_TIMEOUT" default:"30m"`
	MinuteLength         time.Duration `envconfig:"ENGINE_MINUTE" default:"1m"`
	MuteBypassSeverity   string        `envconfig:"MUTE_BYPASS_SEVERITY" default:"critical" validate:"oneof=low medium high critical"`
	DNDBypassSeverity    string        `envconfig:"DND_BYPASS_SEVERITY" default:"critical" validate:"oneof=low medium high critical"`
	ExhaustedReportFloor string        `envconfig:"EXHAUSTED_REPORT_SEVERITY" default:"high" validate:"oneof=low medium high critical"`
}

// RetentionConfig controls the maintenance jobs.
type RetentionConfig struct {
	DispatchRetention     time.Duration `envconfig:"DISPATCH_RETENTION" default:"720h"`
	NotificationRetention time.Duration `envconfig:"NOTIFICATION_RETENTION" default:"8760h"`
	Schedule              string        `envconfig:"MAINTENANCE_SCHEDULE" default:"@every 15m"`
	ExportMaxRows         int           `envconfig:"EXPORT_MAX_ROWS" default:"50000"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"AlertFlow"`
}

// FeatureConfig holds kill switches. It is passed to the engine explicitly;
// nothing reads it from globals.
type FeatureConfig struct {
	EnableEmail      bool `envconfig:"FEATURE_ENABLE_EMAIL" default:"true"`
	EnableSMS        bool `envconfig:"FEATURE_ENABLE_SMS" default:"true"`
	EnableWebhooks   bool `envconfig:"FEATURE_ENABLE_WEBHOOKS" default:"true"`
	EnableIoT        bool `envconfig:"FEATURE_ENABLE_IOT" default:"false"`
	EnableEscalation bool `envconfig:"FEATURE_ENABLE_ESCALATION" default:"true"`
	EnableSQSIngest  bool `envconfig:"FEATURE_ENABLE_SQS_INGEST" default:"false"`
	EnableNATSIngest bool `envconfig:"FEATURE_ENABLE_NATS_INGEST" default:"false"`
	EnableDedupe     bool `envconfig:"FEATURE_ENABLE_DEDUPE" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// ProviderTimeout returns the adapter timeout for a channel type.
func (e EngineConfig) ProviderTimeout(channelType string) time.Duration {
	if d, ok := e.ProviderTimeouts[channelType]; ok && d > 0 {
		return d
	}
	return e.AdapterTimeout
}

// ProviderRPM returns the requests-per-minute budget for a channel type.
func (e EngineConfig) ProviderRPM(channelType string) int {
	if n, ok := e.ProviderRateLimits[channelType]; ok && n > 0 {
		return n
	}
	return e.DefaultRequestsPerMinute
}
