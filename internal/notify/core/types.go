// Package core provides the shared notification delivery infrastructure used
// by all channels (Telegram, Discord, webhook): the dispatcher that routes a
// finished generation to the right notifier, delivery state management,
// job-level retry policy, SQS re-publishing, media fetching, and CloudWatch
// telemetry.
package core

import (
	"context"
	"time"

	"conjure/internal/types"
)

// DeliveryManager abstracts database state transitions for notification
// deliveries. It wraps the delivery repository to provide higher-level
// operations that enforce the rules around delivery state management.
type DeliveryManager interface {
	// EnsureDeliveryExists is idempotent. Uses INSERT ... ON CONFLICT DO
	// NOTHING. Returns the delivery ID, whether it was newly created, and
	// any error.
	EnsureDeliveryExists(ctx context.Context, generationID string, chType types.ChannelType) (string, bool, error)

	// RecordAttempt logs that a worker is about to try sending.
	RecordAttempt(ctx context.Context, deliveryID string) error

	// MarkSuccess updates status to 'sent' and sets delivered_at.
	MarkSuccess(ctx context.Context, deliveryID string, providerMsgID string) error

	// MarkFailure updates status, increments attempts, and reports whether
	// the job-level retry budget allows another attempt.
	MarkFailure(ctx context.Context, deliveryID string, reason string) (shouldRetry bool, err error)

	// MarkSkipped records a delivery that was intentionally not performed
	// (e.g. configuration error on a record that must not be re-queued).
	MarkSkipped(ctx context.Context, deliveryID string, reason string) error
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// NotificationMetrics abstracts CloudWatch/telemetry operations for the
// notification system.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// NopMetrics discards all metrics. Used in tests and local runs.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, types.ChannelType, MetricResult) {}
func (NopMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration) {}
func (NopMetrics) RecordQueueLag(context.Context, time.Duration)                   {}

// RetryPolicy defines the exponential backoff parameters for job-level
// delivery retries (SQS re-publishes performed by the dispatcher).
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// JobRetryPolicy is the job-level policy applied to every channel. The
// webhook channel additionally runs its own fixed internal schedule per
// attempt; chat channels have no internal retry loop.
var JobRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     5 * time.Second,
	MaxDelay:      5 * time.Minute,
	BackoffFactor: 4.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = policy.MaxDelay
	}

	return d
}
