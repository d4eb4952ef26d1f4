package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertflow/internal/dispatch"
	"alertflow/internal/types"
)

type stubHandler struct {
	mu     sync.Mutex
	events []*types.Event
	err    error
}

func (h *stubHandler) HandleEvent(_ context.Context, ev *types.Event) (*dispatch.IngestResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	if h.err != nil {
		return nil, h.err
	}
	return &dispatch.IngestResult{EventID: ev.ID, DispatchIDs: []string{"dsp_1"}}, nil
}

const validBody = `{"id":"evt-1","organization_id":"org-1","event_type":"intrusion","severity":"high","confidence":0.8}`

func TestProcess(t *testing.T) {
	logger := slog.Default()
	tests := []struct {
		name       string
		body       string
		handlerErr error
		want       disposition
		wantCalls  int
	}{
		{"valid event", validBody, nil, settle, 1},
		{"malformed json", `{"id":`, nil, settle, 0},
		{"empty body", "  ", nil, settle, 0},
		{"rejected event", validBody, types.NewAppError(types.ErrCodeValidationInvalidEvent, "invalid event", nil), settle, 1},
		{"database outage", validBody, types.NewAppError(types.ErrCodeInternalDB, "db down", nil), redeliver, 1},
		{"unknown error", validBody, errors.New("boom"), redeliver, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &stubHandler{err: tt.handlerErr}
			got := process(context.Background(), h, logger, "test", []byte(tt.body))
			assert.Equal(t, tt.want, got)
			assert.Len(t, h.events, tt.wantCalls)
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(validBody))
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, types.SeverityHigh, ev.Severity)
	assert.InDelta(t, 0.8, ev.Confidence, 1e-9)
}

type mockSQSClient struct {
	mu       sync.Mutex
	batches  [][]sqsTypes.Message
	recvErr  error
	deleted  []string
	received int
	cancel   context.CancelFunc
}

func (m *mockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received++
	if m.recvErr != nil {
		m.cancel()
		return nil, m.recvErr
	}
	if len(m.batches) == 0 {
		m.cancel()
		return &sqs.ReceiveMessageOutput{}, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (m *mockSQSClient) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func sqsMessage(id, body string) sqsTypes.Message {
	return sqsTypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
	}
}

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestSQSConsumer_DeletesSettledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &mockSQSClient{
		cancel: cancel,
		batches: [][]sqsTypes.Message{{
			sqsMessage("1", validBody),
			sqsMessage("2", "not json"),
		}},
	}
	h := &stubHandler{}
	c := NewSQSConsumer(client, "https://sqs.example/events", h, slog.Default())
	c.sleeper = noSleep{}

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"rh-1", "rh-2"}, client.deleted)
	assert.Len(t, h.events, 1)
}

func TestSQSConsumer_LeavesFailedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &mockSQSClient{
		cancel:  cancel,
		batches: [][]sqsTypes.Message{{sqsMessage("1", validBody)}},
	}
	h := &stubHandler{err: types.NewAppError(types.ErrCodeInternalDB, "db down", nil)}
	c := NewSQSConsumer(client, "https://sqs.example/events", h, slog.Default())
	c.sleeper = noSleep{}

	_ = c.Run(ctx)
	assert.Empty(t, client.deleted, "failed message must stay on the queue")
}

func TestSQSConsumer_ReceiveErrorBacksOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &mockSQSClient{cancel: cancel, recvErr: errors.New("network")}
	c := NewSQSConsumer(client, "https://sqs.example/events", &stubHandler{}, slog.Default())
	c.sleeper = noSleep{}

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.received)
}
