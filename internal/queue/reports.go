// Package queue publishes engine reports (exhausted escalations, anomalies)
// to an SQS queue for downstream consumers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"alertflow/internal/config"
	"alertflow/internal/dispatch"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ReportPublisher sends each dispatch.Report as one JSON message. Message
// attributes carry the kind and severity so consumers can filter without
// parsing the body.
type ReportPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewReportPublisher reads the queue URL from the AWS config.
func NewReportPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *ReportPublisher {
	return &ReportPublisher{
		client:   client,
		queueURL: awsCfg.ReportQueueURL,
		logger:   logger,
	}
}

func (p *ReportPublisher) Publish(ctx context.Context, r dispatch.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal report: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(r.Kind)),
			},
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(r.Severity)),
			},
			"organization_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(r.OrganizationID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send report to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "report published",
		"queue_url", p.queueURL,
		"kind", string(r.Kind),
		"dispatch_id", r.DispatchID,
		"severity", string(r.Severity),
	)
	return nil
}

// LogReportPublisher writes reports to the log when no queue is configured.
type LogReportPublisher struct {
	logger *slog.Logger
}

// NewLogReportPublisher creates a LogReportPublisher.
func NewLogReportPublisher(logger *slog.Logger) *LogReportPublisher {
	return &LogReportPublisher{logger: logger}
}

func (p *LogReportPublisher) Publish(ctx context.Context, r dispatch.Report) error {
	p.logger.WarnContext(ctx, "engine report",
		"kind", string(r.Kind),
		"dispatch_id", r.DispatchID,
		"workflow_id", r.WorkflowID,
		"organization_id", r.OrganizationID,
		"severity", string(r.Severity),
		"step", r.Step,
		"reason", r.Reason,
	)
	return nil
}

var (
	_ dispatch.ReportPublisher = (*ReportPublisher)(nil)
	_ dispatch.ReportPublisher = (*LogReportPublisher)(nil)
)
