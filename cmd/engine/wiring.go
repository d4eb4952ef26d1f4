package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertflow/internal/api/handlers"
	"alertflow/internal/cache"
	"alertflow/internal/config"
	"alertflow/internal/core"
	"alertflow/internal/db"
	"alertflow/internal/dispatch"
	"alertflow/internal/export"
	"alertflow/internal/external"
	"alertflow/internal/ingest"
	notifcore "alertflow/internal/notifications/core"
	"alertflow/internal/notifications/email"
	"alertflow/internal/notifications/iot"
	"alertflow/internal/notifications/sms"
	"alertflow/internal/notifications/webhook"
	"alertflow/internal/queue"
	"alertflow/internal/scheduler"
	"alertflow/internal/security"
	"alertflow/internal/types"
)

// app is the fully wired engine process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	engine    *dispatch.Engine
	server    *core.Server
	runner    *scheduler.Runner
	consumers []consumer
	closers   []func()
}

// consumer is an event source that runs until its context ends.
type consumer struct {
	name string
	Run  func(ctx context.Context) error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires every component from configuration. On error, anything
// already opened is closed.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	clock := types.Clock(types.RealClock{})
	sleeper := types.Sleeper(types.RealSleeper{})
	tlog := &slogAdapter{logger: logger}

	pool, err := db.NewPool(ctx, db.PoolSettings{
		URL:             cfg.Database.URL.Unmask(),
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		AcquireTimeout:  cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	workflows := db.NewWorkflowRepository(pool)
	channels := db.NewChannelRepository(pool)
	dispatches := db.NewDispatchRepository(pool)
	notifications := db.NewNotificationRepository(pool)
	preferences := db.NewPreferenceRepository(pool)

	st := newStores(cfg.Redis, cfg.Feature.EnableDedupe, clock, tlog)
	a.closers = append(a.closers, st.close)

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	clients, err := external.NewClientRegistry(cfg, awsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building provider clients: %w", err)
	}
	a.closers = append(a.closers, clients.Close)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := notificationMetrics(cfg.Observability, promReg, cloudwatch.NewFromConfig(awsCfg), tlog)

	registry, err := buildRegistry(cfg, clients, metrics, clock, tlog)
	if err != nil {
		return nil, err
	}

	var reports dispatch.ReportPublisher = queue.NewLogReportPublisher(logger)
	sqsClient := sqs.NewFromConfig(awsCfg)
	if cfg.AWS.ReportQueueURL != "" {
		reports = queue.NewReportPublisher(sqsClient, cfg.AWS, logger)
	}

	settings := dispatch.SettingsFromConfig(cfg.Engine, cfg.Feature)
	pipeline := notifcore.NewPipeline(notifications, registry, retryPolicy(cfg.Engine), sleeper, clock, metrics, tlog)
	pipeline.OnPermanentFailure(dispatch.MarkChannelFailed(channels, clock, tlog))

	resolver := notifcore.NewPreferenceResolver(
		types.ParseSeverity(cfg.Engine.MuteBypassSeverity),
		types.ParseSeverity(cfg.Engine.DNDBypassSeverity),
		clock, tlog,
	)
	notifier := dispatch.NewNotifier(channels, preferences, resolver, pipeline, settings.DisabledChannels, tlog)
	escalator := dispatch.NewEscalator(dispatches, notifier, reports, sleeper, clock, metrics, settings)
	executors := dispatch.NewExecutors(dispatch.Collaborators{
		Tasks:       clients.Tasks,
		Incidents:   clients.Incidents,
		Bus:         clients.Bus,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, notifier, pipeline, escalator, settings, clock)

	a.engine = dispatch.NewEngine(dispatch.Deps{
		Dispatches: dispatches,
		Workflows:  workflows,
		Scheduler:  dispatch.NewScheduler(executors, sleeper, settings),
		Dedupe:     st.dedupe,
		Cooldowns:  st.cooldowns,
		AckBus:     st.ackBus,
		Reports:    reports,
		Clock:      clock,
		Metrics:    metrics,
		Logger:     tlog,
	}, settings)

	maintenance := scheduler.NewMaintenanceService(dispatches, notifications,
		scheduler.PolicyFromConfig(cfg.Retention, cfg.Engine), logger.With("component", "maintenance"))
	a.runner, err = scheduler.NewRunner(cfg.Retention.Schedule, &scheduler.Handler{
		Service:  maintenance,
		JobLock:  st.jobLock,
		Clock:    clock,
		WorkerID: uuid.NewString(),
		Logger:   logger.With("component", "scheduler"),
	}, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("parsing maintenance schedule %q: %w", cfg.Retention.Schedule, err)
	}

	if err := a.addConsumers(ctx, sqsClient); err != nil {
		return nil, err
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.RateLimitStore = st.rateLimit
	srv.Live = a.engine
	srv.HealthProbes = []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
		core.ProbeFunc{ProbeName: "command_bus", Fn: clients.Ping},
	}
	if st.probe != nil {
		srv.HealthProbes = append(srv.HealthProbes, st.probe)
	}
	if cfg.Observability.MetricsBackend != "none" {
		srv.Metrics = core.NewPrometheusRequestMetrics(promReg)
		srv.MetricsHandler = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg})
	}

	v := srv.Validator
	tester := notifcore.NewChannelTester(registry, channels, clock, tlog)
	exporter := export.NewExporter(notifications, cfg.Retention.ExportMaxRows)
	srv.V1RouteRegistrars = []func(chi.Router){
		handlers.NewEventHandler(a.engine, dispatchReader{dispatches}, v, logger).RegisterRoutes,
		handlers.NewWorkflowHandler(workflowRepo{workflows}, v, logger).RegisterRoutes,
		handlers.NewChannelHandler(channelRepo{channels}, registry, tester, v, logger).RegisterRoutes,
		handlers.NewPreferenceHandler(preferences, notifcore.ValidatePreferences, v, logger).RegisterRoutes,
		handlers.NewNotificationHandler(notifications, exporter, clock, logger).RegisterRoutes,
	}
	srv.MountRoutes()
	a.server = srv

	return a, nil
}

// loadAWSConfig resolves the SDK configuration. AWS_ENDPOINT_URL points every
// client at LocalStack.
func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if c.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(c.EndpointURL)
	}
	return awsCfg, nil
}

// notificationMetrics picks the delivery metrics emitter. Prometheus is always
// fed unless metrics are off; CloudWatch is added on top when selected.
func notificationMetrics(c config.ObservabilityConfig, reg *prometheus.Registry, cw notifcore.CloudWatchClient, logger types.Logger) notifcore.NotificationMetrics {
	switch c.MetricsBackend {
	case "none":
		return notifcore.NoopMetrics{}
	case "cloudwatch":
		return notifcore.MultiMetrics{
			notifcore.NewPrometheusNotificationMetrics(reg),
			notifcore.NewCloudWatchNotificationMetrics(cw, c.MetricNamespace, logger),
		}
	default:
		return notifcore.NewPrometheusNotificationMetrics(reg)
	}
}

func retryPolicy(e config.EngineConfig) notifcore.RetryPolicy {
	p := notifcore.DefaultRetryPolicy
	if e.RetryMaxAttempts > 0 {
		p.MaxAttempts = e.RetryMaxAttempts
	}
	if e.RetryBaseDelay > 0 {
		p.BaseDelay = e.RetryBaseDelay
	}
	if e.RetryMaxDelay > 0 {
		p.MaxDelay = e.RetryMaxDelay
	}
	return p
}

// buildRegistry registers an adapter for every channel type that has a
// provider. Webhook-family adapters always register; their outbound client
// goes through the SSRF guard.
func buildRegistry(cfg *config.Config, clients *external.ClientRegistry, metrics notifcore.NotificationMetrics, clock types.Clock, logger types.Logger) (*notifcore.Registry, error) {
	registry := notifcore.NewRegistry(cfg.Engine, notifcore.NewProviderLimiter(), metrics, clock, logger)

	var guardOpts []security.Option
	if cfg.Environment == "local" {
		guardOpts = append(guardOpts, security.AllowPlainHTTP())
	}
	guard := security.NewGuard(guardOpts...)
	httpClient := guard.NewHTTPClient(cfg.Engine.ProviderTimeout(string(types.ChannelWebhook)), cfg.Webhook.MaxRedirects)
	adapters, err := webhook.NewAdapters(cfg.Webhook, httpClient, guard.Validator(), logger)
	if err != nil {
		return nil, fmt.Errorf("building webhook adapters: %w", err)
	}
	for _, a := range adapters {
		registry.Register(a)
	}

	if clients.Email != nil {
		renderer, err := email.NewRenderer(time.UTC)
		if err != nil {
			return nil, fmt.Errorf("loading email templates: %w", err)
		}
		registry.Register(email.NewChannel(clients.Email, renderer, email.Sender{
			Address: cfg.Email.FromAddress,
			Name:    cfg.Email.FromName,
		}, logger))
	}
	if clients.SMS != nil {
		registry.Register(sms.NewChannel(clients.SMS, cfg.SMS.MaxChars, logger))
	}
	if clients.Bus != nil {
		registry.Register(iot.NewChannel(clients.Bus, cfg.MQTT.TopicPrefix, logger))
	}
	return registry, nil
}

func (a *app) addConsumers(ctx context.Context, sqsClient *sqs.Client) error {
	if a.cfg.Feature.EnableSQSIngest {
		if a.cfg.AWS.EventQueueURL == "" {
			return fmt.Errorf("FEATURE_ENABLE_SQS_INGEST requires SQS_EVENTS")
		}
		c := ingest.NewSQSConsumer(sqsClient, a.cfg.AWS.EventQueueURL, a.engine, a.logger.With("consumer", "sqs"))
		a.consumers = append(a.consumers, consumer{name: "sqs", Run: c.Run})
	}
	if a.cfg.Feature.EnableNATSIngest {
		c, err := ingest.NewNATSConsumer(ctx, a.cfg.NATS, a.engine, a.logger.With("consumer", "nats"))
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := c.Close(); err != nil {
				a.logger.Warn("nats drain failed", "error", err)
			}
		})
		a.consumers = append(a.consumers, consumer{name: "nats", Run: c.Run})
	}
	return nil
}

// stores are the coordination stores shared across engine instances. Without
// a Redis address they fall back to one in-memory store, which only
// coordinates a single instance.
type stores struct {
	dedupe    dispatch.Deduplicator
	cooldowns dispatch.CooldownStore
	ackBus    dispatch.AckBus
	jobLock   scheduler.JobLocker
	rateLimit core.RateLimitStore
	probe     core.HealthProbe
	close     func()
}

func newStores(c config.RedisConfig, dedupe bool, clock types.Clock, logger types.Logger) stores {
	var st stores
	if c.Addr == "" {
		mem := cache.NewMemoryStore(c.DedupeTTL, clock)
		st = stores{
			dedupe:    mem,
			cooldowns: mem,
			ackBus:    mem,
			jobLock:   scheduler.LockFunc(mem.AcquireLock),
			rateLimit: mem,
			close:     func() {},
		}
	} else {
		client := cache.NewClient(c)
		st = stores{
			dedupe:    cache.NewDeduplicator(client, c.DedupeTTL),
			cooldowns: cache.NewCooldownStore(client),
			ackBus:    cache.NewAckBus(client, c.AckChannel, logger),
			jobLock:   cache.NewJobLock(client),
			rateLimit: cache.NewRateLimiter(client, clock),
			probe:     redisProbe(client),
			close:     func() { _ = client.Close() },
		}
	}
	if !dedupe {
		st.dedupe = nil
	}
	return st
}

func redisProbe(client *redis.Client) core.HealthProbe {
	return core.ProbeFunc{ProbeName: "redis", Fn: func(ctx context.Context) error {
		return cache.Ping(ctx, client)
	}}
}
