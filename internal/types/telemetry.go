package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricQueueLag        = "QueueLag"

	// Dimension Keys
	DimChannel = "Channel"
	DimResult  = "Result"

	// Metric Namespace
	MetricNamespace = "Conjure"
)
