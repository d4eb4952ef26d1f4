package types

// Telemetry metric names.
// All components MUST use these constants.
const (
	// Metric Names
	MetricDeliveryAttempt     = "DeliveryAttempt"
	MetricDeliverySuccess     = "DeliverySuccess"
	MetricDeliveryFailed      = "DeliveryFailed"
	MetricDeliverySkipped     = "DeliverySkipped"
	MetricDeliveryLatency     = "DeliveryLatency"
	MetricDispatchOutcome     = "DispatchOutcome"
	MetricEscalationExhausted = "EscalationExhausted"
	MetricEngineAnomaly       = "EngineAnomaly"
	MetricExternalAPIFailure  = "ExternalAPIFailure"

	// Dimension Keys
	DimChannel  = "Channel"
	DimStatus   = "Status"
	DimProvider = "Provider"

	// Metric Namespace
	MetricNamespace = "AlertFlow"
)
