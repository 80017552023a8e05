// Package types defines the shared domain model for the Conjure notification
// delivery subsystem: generation and cast records as the internal API exposes
// them, the canonical error type, and the small interfaces (Logger, Clock,
// Notifier) every other package depends on.
package types

import (
	"encoding/json"
	"time"
)

// DeliveryHint instructs a chat notifier to deviate from default rendering
// for one platform (e.g. force an image to be sent as a document).
type DeliveryHint struct {
	SendAs   string `json:"send-as,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// RecordMetadata is the metadata map attached to a generation record. Only
// the fields the notification layer reads are modeled; everything else the
// execution subsystem stores is ignored here.
type RecordMetadata struct {
	// DeliveryHints is keyed by channel type ("telegram", "discord").
	DeliveryHints map[string]DeliveryHint `json:"deliveryHints,omitempty"`
	RerunCount    int                     `json:"rerunCount,omitempty"`
	WebhookURL    string                  `json:"webhookUrl,omitempty"`
	WebhookSecret string                  `json:"webhookSecret,omitempty"`
	ErrorCode     string                  `json:"errorCode,omitempty"`
	ErrorMessage  string                  `json:"errorMessage,omitempty"`
}

// GenerationRecord is the finished (or failed) generation/spell-step document
// produced by the execution subsystem. It is read-only to the notification
// layer: delivery never mutates the record.
//
// ResponsePayload is kept raw because upstream emits several historical
// shapes; internal/payload owns the parsing.
type GenerationRecord struct {
	ID                   string           `json:"id"`
	ToolID               string           `json:"toolId,omitempty"`
	CastID               string           `json:"castId,omitempty"`
	SpellID              string           `json:"spellId,omitempty"`
	Status               GenerationStatus `json:"status"`
	ResponsePayload      json.RawMessage  `json:"responsePayload,omitempty"`
	CostUSD              json.RawMessage  `json:"costUsd,omitempty"`
	Metadata             RecordMetadata   `json:"metadata"`
	NotificationPlatform ChannelType      `json:"notificationPlatform"`
	CreatedAt            time.Time        `json:"createdAt,omitempty"`
	CompletedAt          *time.Time       `json:"completedAt,omitempty"`
}

// CostString returns the record's cost normalized to a plain decimal string.
func (r *GenerationRecord) CostString() string {
	return NormalizeDecimal(r.CostUSD)
}

// Hint returns the delivery hint for the given channel, if any.
func (r *GenerationRecord) Hint(channel ChannelType) (DeliveryHint, bool) {
	h, ok := r.Metadata.DeliveryHints[string(channel)]
	return h, ok
}

// CastRecord is the execution-tracking document for one spell run, fetched
// from the internal API when building spell webhook payloads.
type CastRecord struct {
	ID            string           `json:"id"`
	SpellID       string           `json:"spellId"`
	SpellSlug     string           `json:"spellSlug,omitempty"`
	Status        GenerationStatus `json:"status"`
	GenerationIDs []string         `json:"generationIds,omitempty"`
	CostUSD       json.RawMessage  `json:"costUsd,omitempty"`
	StartedAt     *time.Time       `json:"startedAt,omitempty"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
}

// NotificationContext carries the chat destination for one delivery. The
// webhook channel ignores it: its destination lives in record metadata.
type NotificationContext struct {
	// ChatID is the chat-platform channel identifier. Negative Telegram IDs
	// denote group chats.
	ChatID int64 `json:"chat_id,omitempty"`
	// ChannelID is the string form used by Discord.
	ChannelID string `json:"channel_id,omitempty"`
	// UserID, when known, enables private redirection of documents posted
	// in group chats.
	UserID string `json:"user_id,omitempty"`
	// ReplyToMessageID links the notification to the user's original message.
	ReplyToMessageID int64 `json:"reply_to_message_id,omitempty"`
}

// NotificationDelivery is one row of delivery bookkeeping owned by the
// dispatcher. IDs are deterministic per (generation, channel) so inserts are
// idempotent across worker retries.
type NotificationDelivery struct {
	ID            string
	GenerationID  string
	ChannelType   ChannelType
	Status        DeliveryStatus
	AttemptCount  int
	FailureReason string
	LastAttemptAt *time.Time
	DeliveredAt   *time.Time
	CreatedAt     time.Time
}
