package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"alertflow/internal/types"
)

// SQSClient is the subset of *sqs.Client the consumer uses.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

const (
	sqsWaitSeconds  = 20
	sqsBatchSize    = 10
	sqsErrorBackoff = 5 * time.Second
)

// SQSConsumer long-polls an SQS queue. Messages that are not deleted become
// visible again after the queue's visibility timeout.
type SQSConsumer struct {
	client   SQSClient
	queueURL string
	handler  EventHandler
	sleeper  types.Sleeper
	logger   *slog.Logger
}

// NewSQSConsumer creates a SQSConsumer.
func NewSQSConsumer(client SQSClient, queueURL string, handler EventHandler, logger *slog.Logger) *SQSConsumer {
	return &SQSConsumer{
		client:   client,
		queueURL: queueURL,
		handler:  handler,
		sleeper:  types.RealSleeper{},
		logger:   logger.With("component", "sqs_consumer"),
	}
}

// Run polls until ctx ends.
func (c *SQSConsumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "sqs consumer started", "queue_url", c.queueURL)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.ErrorContext(ctx, "sqs receive failed", "error", err.Error())
			if err := c.sleeper.Sleep(ctx, sqsErrorBackoff); err != nil {
				return err
			}
		}
	}
}

// poll receives one batch and handles its messages in order.
func (c *SQSConsumer) poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: sqsBatchSize,
		WaitTimeSeconds:     sqsWaitSeconds,
	})
	if err != nil {
		return err
	}

	for _, msg := range out.Messages {
		if process(ctx, c.handler, c.logger, "sqs", []byte(aws.ToString(msg.Body))) == redeliver {
			continue
		}
		_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		})
		if err != nil {
			c.logger.WarnContext(ctx, "failed to delete sqs message",
				"message_id", aws.ToString(msg.MessageId),
				"error", err.Error(),
			)
		}
	}
	return nil
}
