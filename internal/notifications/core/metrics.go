package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"alertflow/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ NotificationMetrics = (*CloudWatchNotificationMetrics)(nil)

// CloudWatchNotificationMetrics emits delivery and dispatch metrics to
// CloudWatch. Put failures are logged and swallowed.
type CloudWatchNotificationMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchNotificationMetrics publishes under namespace, defaulting to
// types.MetricNamespace.
func NewCloudWatchNotificationMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchNotificationMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchNotificationMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordDelivery emits DeliverySuccess, DeliveryFailed or DeliverySkipped
// with the Channel dimension.
func (m *CloudWatchNotificationMetrics) RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult) {
	name := types.MetricDeliverySuccess
	switch result {
	case MetricFailed:
		name = types.MetricDeliveryFailed
	case MetricSkipped:
		name = types.MetricDeliverySkipped
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{{Name: aws.String(types.DimChannel), Value: aws.String(string(channel))}},
	})
}

// RecordLatency emits adapter call latency in milliseconds.
func (m *CloudWatchNotificationMetrics) RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{{Name: aws.String(types.DimChannel), Value: aws.String(string(channel))}},
	})
}

// RecordDispatch counts dispatches by final status.
func (m *CloudWatchNotificationMetrics) RecordDispatch(ctx context.Context, status types.DispatchStatus) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDispatchOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{{Name: aws.String(types.DimStatus), Value: aws.String(string(status))}},
	})
}

// RecordEscalationExhausted counts escalations that ran out of steps unacknowledged.
func (m *CloudWatchNotificationMetrics) RecordEscalationExhausted(ctx context.Context) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricEscalationExhausted),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordAnomaly counts engine anomalies such as forced dispatch timeouts.
func (m *CloudWatchNotificationMetrics) RecordAnomaly(ctx context.Context, kind string) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricEngineAnomaly),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{{Name: aws.String("Kind"), Value: aws.String(kind)}},
	})
}

func (m *CloudWatchNotificationMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.Error("failed to put metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}
