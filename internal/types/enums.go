package types

// GenerationStatus represents the lifecycle state of a generation or spell
// cast as reported by the execution subsystem.
type GenerationStatus string

const (
	GenerationQueued    GenerationStatus = "queued"
	GenerationRunning   GenerationStatus = "running"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

// ChannelType identifies a notification delivery channel.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelWebhook  ChannelType = "webhook"
)

// DeliveryStatus tracks the state of one delivery record.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSent     DeliveryStatus = "sent"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusSkipped  DeliveryStatus = "skipped"
)

// WebhookEvent identifies the event type carried in an outbound webhook payload.
type WebhookEvent string

const (
	EventGenerationCompleted WebhookEvent = "generation.completed"
	EventGenerationFailed    WebhookEvent = "generation.failed"
	EventSpellCompleted      WebhookEvent = "spell.completed"
	EventSpellFailed         WebhookEvent = "spell.failed"
)

// SendAsDocument is the delivery-hint value that forces an image to be
// delivered as a generic file attachment instead of an inline photo, so the
// user receives the original unprocessed bytes.
const SendAsDocument = "document"
