package external

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Stubs let the engine boot with APP_ENV=local without provider
// credentials. They log what would have been sent and report success.

// StubEmailProvider logs emails.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, msg EmailMessage) (string, error) {
	s.logger.InfoContext(ctx, "stub: email",
		"to", msg.To,
		"subject", msg.Subject,
		"reference_id", msg.ReferenceID,
	)
	return "stub-email-" + uuid.NewString(), nil
}

// StubSMSProvider logs text messages.
type StubSMSProvider struct {
	logger *slog.Logger
}

// NewStubSMSProvider creates a StubSMSProvider.
func NewStubSMSProvider(logger *slog.Logger) *StubSMSProvider {
	return &StubSMSProvider{logger: logger}
}

func (s *StubSMSProvider) SendSMS(ctx context.Context, phone, body string) (string, error) {
	s.logger.InfoContext(ctx, "stub: sms", "phone", phone, "length", len(body))
	return "stub-sms-" + uuid.NewString(), nil
}

// StubCommandBus logs device commands.
type StubCommandBus struct {
	logger *slog.Logger
}

// NewStubCommandBus creates a StubCommandBus.
func NewStubCommandBus(logger *slog.Logger) *StubCommandBus {
	return &StubCommandBus{logger: logger}
}

func (s *StubCommandBus) Publish(ctx context.Context, topic string, payload []byte) error {
	s.logger.InfoContext(ctx, "stub: mqtt publish", "topic", topic, "bytes", len(payload))
	return nil
}

// StubTaskService logs task creation.
type StubTaskService struct {
	logger *slog.Logger
}

// NewStubTaskService creates a StubTaskService.
func NewStubTaskService(logger *slog.Logger) *StubTaskService {
	return &StubTaskService{logger: logger}
}

func (s *StubTaskService) CreateTask(ctx context.Context, req TaskRequest) (string, error) {
	id := "stub-task-" + uuid.NewString()
	s.logger.InfoContext(ctx, "stub: create task",
		"task_id", id,
		"title", req.Title,
		"assignee", req.Assignee,
		"dispatch_id", req.DispatchID,
	)
	return id, nil
}

var (
	_ EmailProvider = (*StubEmailProvider)(nil)
	_ SMSProvider   = (*StubSMSProvider)(nil)
	_ CommandBus    = (*StubCommandBus)(nil)
	_ TaskService   = (*StubTaskService)(nil)
)
