package types

import (
	"context"
	"time"
)

// Notifier is the common contract implemented by every delivery channel
// (Telegram, Discord, webhook). SendNotification delivers the record's result
// to the destination resolved from nctx (chat channels) or from the record's
// metadata (webhook channel).
//
// Semantics shared by all implementations:
//   - Missing/invalid destination is a configuration error: fail fast with
//     an AppError, no internal retry.
//   - Completed records: normalize and deliver every output item; if nothing
//     deliverable remains, send fallbackText so the user always receives
//     some acknowledgment.
//   - Non-completed (failed) records: send fallbackText verbatim, no media
//     processing.
//   - After internal retries are exhausted, attempt one last plain-text
//     fallback send before propagating the error to the dispatcher.
type Notifier interface {
	Type() ChannelType
	SendNotification(ctx context.Context, nctx NotificationContext, fallbackText string, record *GenerationRecord) error
}

// SSRFValidator checks if a webhook URL is safe to call.
type SSRFValidator func(url string) error

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the
// subsystem. Backed by log/slog in production via an adapter in the worker
// entrypoint.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NopLogger discards all log output. Useful as a default in tests.
type NopLogger struct{}

func (NopLogger) Info(msg string, args ...any)  {}
func (NopLogger) Error(msg string, args ...any) {}
func (NopLogger) Warn(msg string, args ...any)  {}
func (n NopLogger) With(args ...any) Logger     { return n }
