package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conjure/internal/types"
)

// Publisher re-enqueues a delivery message for a later retry attempt.
type Publisher interface {
	Publish(ctx context.Context, msg types.DeliveryMessage, delay time.Duration) error
}

// Dispatcher routes a DeliveryMessage to the notifier registered for its
// platform and drives the delivery lifecycle: idempotent delivery record,
// attempt accounting, channel send, and the job-level retry cycle via SQS
// re-publish.
type Dispatcher struct {
	notifiers  map[types.ChannelType]types.Notifier
	deliveries DeliveryManager
	publisher  Publisher
	metrics    NotificationMetrics
	policy     RetryPolicy
	clock      types.Clock
	logger     types.Logger
}

// NewDispatcher creates a Dispatcher. The notifiers slice is indexed by each
// notifier's Type(); registering two notifiers for the same channel is a
// programming error and the later one wins.
func NewDispatcher(
	notifiers []types.Notifier,
	deliveries DeliveryManager,
	publisher Publisher,
	metrics NotificationMetrics,
	policy RetryPolicy,
	clock types.Clock,
	logger types.Logger,
) *Dispatcher {
	byType := make(map[types.ChannelType]types.Notifier, len(notifiers))
	for _, n := range notifiers {
		byType[n.Type()] = n
	}
	return &Dispatcher{
		notifiers:  byType,
		deliveries: deliveries,
		publisher:  publisher,
		metrics:    metrics,
		policy:     policy,
		clock:      clock,
		logger:     logger,
	}
}

// Dispatch processes one delivery message end to end. The returned error is
// non-nil only when the message should be surfaced to the SQS batch failure
// mechanism (infrastructure errors before a delivery record exists). All
// delivery outcomes, including permanent failures, return nil because the
// retry cycle is handled through explicit re-publishing, not SQS redelivery.
func (d *Dispatcher) Dispatch(ctx context.Context, msg types.DeliveryMessage) error {
	log := d.logger.With(
		"generation_id", msg.GenerationID,
		"platform", string(msg.Platform),
		"retry_count", msg.RetryCount,
		"trace_id", msg.TraceID,
	)

	notifier, ok := d.notifiers[msg.Platform]
	if !ok {
		// Unknown platform is a producer bug. Re-queueing cannot fix it.
		log.Error("no notifier registered for platform")
		d.metrics.RecordDelivery(ctx, msg.Platform, MetricSkipped)
		return nil
	}

	deliveryID, created, err := d.deliveries.EnsureDeliveryExists(ctx, msg.GenerationID, msg.Platform)
	if err != nil {
		// No delivery record, no state to reason about. Let SQS redeliver.
		return fmt.Errorf("dispatch: %w", err)
	}
	if !created && msg.RetryCount == 0 {
		log.Info("duplicate delivery message, record already exists", "delivery_id", deliveryID)
	}

	if err := d.deliveries.RecordAttempt(ctx, deliveryID); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	start := d.clock.Now()
	sendErr := notifier.SendNotification(ctx, msg.Context, msg.FallbackText, &msg.Record)
	d.metrics.RecordLatency(ctx, msg.Platform, d.clock.Now().Sub(start))

	if sendErr == nil {
		d.metrics.RecordDelivery(ctx, msg.Platform, MetricSuccess)
		if err := d.deliveries.MarkSuccess(ctx, deliveryID, ""); err != nil {
			// The user got the message; a bookkeeping failure must not
			// trigger a duplicate send.
			log.Error("failed to mark delivery success", "error", err.Error(), "delivery_id", deliveryID)
		}
		return nil
	}

	return d.handleSendFailure(ctx, log, msg, deliveryID, sendErr)
}

func (d *Dispatcher) handleSendFailure(ctx context.Context, log types.Logger, msg types.DeliveryMessage, deliveryID string, sendErr error) error {
	var appErr *types.AppError
	if errors.As(sendErr, &appErr) && appErr.IsConfig() {
		// Configuration errors can never succeed on retry. Record and stop.
		log.Warn("delivery skipped due to configuration error",
			"delivery_id", deliveryID,
			"code", string(appErr.Code),
			"error", appErr.Message,
		)
		d.metrics.RecordDelivery(ctx, msg.Platform, MetricSkipped)
		if err := d.deliveries.MarkSkipped(ctx, deliveryID, sendErr.Error()); err != nil {
			log.Error("failed to mark delivery skipped", "error", err.Error(), "delivery_id", deliveryID)
		}
		return nil
	}

	d.metrics.RecordDelivery(ctx, msg.Platform, MetricFailed)

	shouldRetry, err := d.deliveries.MarkFailure(ctx, deliveryID, sendErr.Error())
	if err != nil {
		log.Error("failed to mark delivery failure", "error", err.Error(), "delivery_id", deliveryID)
		return nil
	}

	if !shouldRetry {
		log.Error("delivery abandoned after exhausting retries",
			"delivery_id", deliveryID,
			"error", sendErr.Error(),
		)
		return nil
	}

	delay := CalculateNextRetry(d.policy, msg.RetryCount)
	if err := d.publisher.Publish(ctx, msg, delay); err != nil {
		// Re-publish failed. Surface to SQS so the original message is
		// redelivered instead of losing the retry.
		return fmt.Errorf("dispatch: re-publish for retry: %w", err)
	}

	log.Warn("delivery re-queued for retry",
		"delivery_id", deliveryID,
		"delay", delay.String(),
		"error", sendErr.Error(),
	)

	return nil
}
