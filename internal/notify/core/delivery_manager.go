package core

import (
	"context"
	"fmt"

	"conjure/internal/types"
)

// Compile-time assertion that DeliveryManagerImpl implements DeliveryManager.
var _ DeliveryManager = (*DeliveryManagerImpl)(nil)

// DeliveryRepository defines the minimal persistence interface required by
// the DeliveryManagerImpl. By depending on this narrow interface rather than
// a full repository, the DeliveryManager is testable with lightweight mocks.
type DeliveryRepository interface {
	// InsertDeliveryIfNotExists performs an idempotent insert using
	// INSERT ... ON CONFLICT DO NOTHING. Returns the delivery ID and
	// whether it was newly created. The deterministic ID is constructed
	// from the generation ID and channel type.
	InsertDeliveryIfNotExists(ctx context.Context, delivery *types.NotificationDelivery) (id string, created bool, err error)

	// UpdateDeliveryStatus updates a delivery record's status, reason, and
	// related timestamps atomically.
	UpdateDeliveryStatus(ctx context.Context, deliveryID string, status string, reason string) error

	// SetDeliverySuccess marks a delivery as sent with the provider message ID.
	SetDeliverySuccess(ctx context.Context, deliveryID string, providerMsgID string) error

	// IncrementAttempt updates last_attempt_at and attempt_count for a delivery.
	IncrementAttempt(ctx context.Context, deliveryID string) error

	// GetDeliveryAttemptCount returns the current attempt count for a delivery.
	GetDeliveryAttemptCount(ctx context.Context, deliveryID string) (int, error)
}

// DeliveryManagerImpl is the production implementation of DeliveryManager.
// It orchestrates delivery state transitions using a repository and enforces
// the job-level retry policy.
type DeliveryManagerImpl struct {
	repo        DeliveryRepository
	retryPolicy RetryPolicy
	logger      types.Logger
}

// NewDeliveryManager creates a new DeliveryManagerImpl with the given
// repository, retry policy, and logger.
func NewDeliveryManager(repo DeliveryRepository, retryPolicy RetryPolicy, logger types.Logger) *DeliveryManagerImpl {
	return &DeliveryManagerImpl{
		repo:        repo,
		retryPolicy: retryPolicy,
		logger:      logger,
	}
}

// EnsureDeliveryExists performs an idempotent insert of a delivery record.
// The delivery ID is deterministic: "del_{generationID}_{channelType}". If a
// record with this ID already exists, it returns the existing ID with
// created=false. This is what makes redelivered SQS messages harmless.
func (m *DeliveryManagerImpl) EnsureDeliveryExists(ctx context.Context, generationID string, chType types.ChannelType) (string, bool, error) {
	deliveryID := fmt.Sprintf("del_%s_%s", generationID, string(chType))

	delivery := &types.NotificationDelivery{
		ID:           deliveryID,
		GenerationID: generationID,
		ChannelType:  chType,
		Status:       types.DeliveryStatusPending,
		AttemptCount: 0,
	}

	id, created, err := m.repo.InsertDeliveryIfNotExists(ctx, delivery)
	if err != nil {
		return "", false, fmt.Errorf("EnsureDeliveryExists: %w", err)
	}

	if created {
		m.logger.Info("delivery record created",
			"delivery_id", id,
			"generation_id", generationID,
			"channel_type", string(chType),
		)
	}

	return id, created, nil
}

// RecordAttempt logs that a worker is about to attempt delivery. Updates
// last_attempt_at and increments attempt_count.
func (m *DeliveryManagerImpl) RecordAttempt(ctx context.Context, deliveryID string) error {
	if err := m.repo.IncrementAttempt(ctx, deliveryID); err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}
	return nil
}

// MarkSuccess updates the delivery status to 'sent', records the provider
// message ID, and sets delivered_at.
func (m *DeliveryManagerImpl) MarkSuccess(ctx context.Context, deliveryID string, providerMsgID string) error {
	if err := m.repo.SetDeliverySuccess(ctx, deliveryID, providerMsgID); err != nil {
		return fmt.Errorf("MarkSuccess: %w", err)
	}

	m.logger.Info("delivery succeeded",
		"delivery_id", deliveryID,
		"provider_message_id", providerMsgID,
	)

	return nil
}

// MarkFailure updates the delivery status. If the attempt count is below the
// retry policy max, it returns shouldRetry=true so the caller can re-enqueue.
// If max attempts are exhausted, it marks as permanently failed.
func (m *DeliveryManagerImpl) MarkFailure(ctx context.Context, deliveryID string, reason string) (bool, error) {
	attemptCount, err := m.repo.GetDeliveryAttemptCount(ctx, deliveryID)
	if err != nil {
		return false, fmt.Errorf("MarkFailure: get attempt count: %w", err)
	}

	if attemptCount < m.retryPolicy.MaxAttempts {
		// Mark as retrying - the caller will re-enqueue with delay.
		if err := m.repo.UpdateDeliveryStatus(ctx, deliveryID, string(types.DeliveryStatusRetrying), reason); err != nil {
			return false, fmt.Errorf("MarkFailure: update status to retrying: %w", err)
		}

		m.logger.Warn("delivery failed, will retry",
			"delivery_id", deliveryID,
			"attempt", attemptCount,
			"max_attempts", m.retryPolicy.MaxAttempts,
			"reason", reason,
		)

		return true, nil
	}

	// Max retries exhausted - mark as permanently failed.
	if err := m.repo.UpdateDeliveryStatus(ctx, deliveryID, string(types.DeliveryStatusFailed), reason); err != nil {
		return false, fmt.Errorf("MarkFailure: update status to failed: %w", err)
	}

	m.logger.Error("delivery permanently failed",
		"delivery_id", deliveryID,
		"attempt", attemptCount,
		"reason", reason,
	)

	return false, nil
}

// MarkSkipped sets the delivery status to 'skipped' with the given reason.
// Used when a configuration error makes the delivery impossible and
// re-queueing would never help.
func (m *DeliveryManagerImpl) MarkSkipped(ctx context.Context, deliveryID string, reason string) error {
	if err := m.repo.UpdateDeliveryStatus(ctx, deliveryID, string(types.DeliveryStatusSkipped), reason); err != nil {
		return fmt.Errorf("MarkSkipped: %w", err)
	}

	m.logger.Info("delivery skipped",
		"delivery_id", deliveryID,
		"reason", reason,
	)

	return nil
}
