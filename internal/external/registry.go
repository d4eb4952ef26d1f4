package external

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"alertflow/internal/config"
	"alertflow/internal/types"
)

// ClientRegistry holds every provider the adapters and action executors use.
type ClientRegistry struct {
	Email     EmailProvider
	SMS       SMSProvider
	Bus       CommandBus
	Tasks     TaskService
	Incidents IncidentLogger

	closers []func()
}

// Close releases connections held by the providers.
func (r *ClientRegistry) Close() {
	for _, c := range r.closers {
		c()
	}
}

// NewClientRegistry builds the providers from configuration. APP_ENV=local
// uses logging stubs throughout. Disabled features get no client.
func NewClientRegistry(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Environment == "local" {
		logger.Info("initializing external clients in stub mode")
		stub := logger.With("mode", "stub")
		return &ClientRegistry{
			Email:     NewStubEmailProvider(stub),
			SMS:       NewStubSMSProvider(stub),
			Bus:       NewStubCommandBus(stub),
			Tasks:     NewStubTaskService(stub),
			Incidents: NewLogIncidentLogger(stub),
		}, nil
	}

	reg := &ClientRegistry{}
	userAgent := cfg.Service + "/" + cfg.Build.Version

	if cfg.Feature.EnableEmail {
		switch cfg.Email.Provider {
		case "sendgrid":
			base := NewBaseClient(&http.Client{Timeout: cfg.Engine.ProviderTimeout(string(types.ChannelEmail))},
				"sendgrid", DefaultRetryPolicy(), userAgent)
			reg.Email = NewSendGridClient(base, cfg.Email.SendGridAPIKey, "", logger.With("client", "sendgrid"))
		default:
			reg.Email = NewSESClient(sesv2.NewFromConfig(awsCfg), cfg.Email.SESConfigSet, logger.With("client", "ses"))
		}
	}

	if cfg.Feature.EnableSMS {
		reg.SMS = NewSNSClient(sns.NewFromConfig(awsCfg), cfg.SMS.SenderID, logger.With("client", "sns"))
	}

	if cfg.Feature.EnableIoT {
		bus, err := DialMQTT(MQTTSettings{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            cfg.MQTT.QoS,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, logger.With("client", "mqtt"))
		if err != nil {
			return nil, err
		}
		reg.Bus = bus
		reg.closers = append(reg.closers, bus.Close)
	}

	collab := &http.Client{Timeout: cfg.Collaborators.Timeout}
	if cfg.Collaborators.TaskServiceURL != "" {
		base := NewBaseClient(collab, "task-service", DefaultRetryPolicy(), userAgent)
		reg.Tasks = NewTaskClient(base, cfg.Collaborators.TaskServiceURL, cfg.Collaborators.TaskServiceToken)
	}
	if cfg.Collaborators.IncidentServiceURL != "" {
		base := NewBaseClient(collab, "incident-service", DefaultRetryPolicy(), userAgent)
		reg.Incidents = NewIncidentClient(base, cfg.Collaborators.IncidentServiceURL, cfg.Collaborators.IncidentToken)
	} else {
		reg.Incidents = NewLogIncidentLogger(logger.With("sink", "incident"))
	}

	return reg, nil
}

// Ping checks the command bus when one is connected.
func (r *ClientRegistry) Ping(ctx context.Context) error {
	if p, ok := r.Bus.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
