package types

// DeliveryMessage is the SQS envelope published by the execution subsystem
// when a generation or spell cast finishes. It carries everything the
// notification worker needs: the record snapshot, the chat destination, and
// the retry state for the publish-subscribe retry cycle. JSON tags use
// snake_case to match the producer's serializer.
type DeliveryMessage struct {
	GenerationID string              `json:"generation_id"`
	Platform     ChannelType         `json:"platform"`
	Context      NotificationContext `json:"context"`

	// FallbackText is the plain-text message sent when the payload yields
	// nothing deliverable, or verbatim when the generation failed.
	FallbackText string `json:"fallback_text"`

	// Record is the snapshot of the finished generation. Embedding it keeps
	// the worker free of a read dependency on the execution store.
	Record GenerationRecord `json:"record"`

	// RetryCount carries the job-level retry state across SQS republishes.
	// Incremented by the publisher before each re-queue.
	RetryCount int `json:"retry_count"`

	// TraceID propagates request tracing across the async boundary.
	TraceID string `json:"trace_id,omitempty"`
}
