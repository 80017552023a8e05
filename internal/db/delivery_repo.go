package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"conjure/internal/types"
)

// DeliveryRepository provides data access for the notification_deliveries
// table. Delivery rows use deterministic IDs ("del_{generationID}_{channel}")
// so the insert path is idempotent across redelivered queue messages.
type DeliveryRepository struct {
	db DBTX
}

// NewDeliveryRepository creates a new DeliveryRepository backed by the given
// database connection (pool or transaction).
func NewDeliveryRepository(db DBTX) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// InsertDeliveryIfNotExists inserts a delivery row, doing nothing if a row
// with the same ID already exists. Returns the delivery ID and whether the
// insert created a new row. A zero RowsAffected means a worker already claimed
// this (generation, channel) pair.
func (r *DeliveryRepository) InsertDeliveryIfNotExists(ctx context.Context, d *types.NotificationDelivery) (string, bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO notification_deliveries
		 (id, generation_id, channel_type, status, attempt_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		d.ID,
		d.GenerationID,
		string(d.ChannelType),
		string(d.Status),
		d.AttemptCount,
	)
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert delivery", err)
	}
	return d.ID, tag.RowsAffected() > 0, nil
}

// UpdateDeliveryStatus updates the status and failure reason for a delivery.
func (r *DeliveryRepository) UpdateDeliveryStatus(ctx context.Context, deliveryID string, status string, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_deliveries SET
			status = $1,
			failure_reason = $2
		 WHERE id = $3`,
		status,
		nilIfEmpty(reason),
		deliveryID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update delivery status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "notification delivery not found", nil)
	}
	return nil
}

// SetDeliverySuccess marks a delivery as sent, recording the provider message
// ID and delivery time.
func (r *DeliveryRepository) SetDeliverySuccess(ctx context.Context, deliveryID string, providerMsgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_deliveries SET
			status = 'sent',
			failure_reason = NULL,
			provider_message_id = $1,
			delivered_at = NOW()
		 WHERE id = $2`,
		nilIfEmpty(providerMsgID),
		deliveryID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark delivery sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "notification delivery not found", nil)
	}
	return nil
}

// IncrementAttempt bumps attempt_count and stamps last_attempt_at for a
// delivery about to be attempted.
func (r *DeliveryRepository) IncrementAttempt(ctx context.Context, deliveryID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_deliveries SET
			attempt_count = attempt_count + 1,
			last_attempt_at = NOW()
		 WHERE id = $1`,
		deliveryID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment delivery attempt", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "notification delivery not found", nil)
	}
	return nil
}

// GetDeliveryAttemptCount returns the current attempt count for a delivery.
func (r *DeliveryRepository) GetDeliveryAttemptCount(ctx context.Context, deliveryID string) (int, error) {
	var count int
	row := r.db.QueryRow(ctx,
		`SELECT attempt_count FROM notification_deliveries WHERE id = $1`,
		deliveryID,
	)
	if err := row.Scan(&count); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to get delivery attempt count", err)
	}
	return count, nil
}

// GetDelivery retrieves a single delivery row by ID. Used by operational
// tooling to inspect delivery state.
func (r *DeliveryRepository) GetDelivery(ctx context.Context, deliveryID string) (*types.NotificationDelivery, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, generation_id, channel_type, status, attempt_count,
		        failure_reason, last_attempt_at, delivered_at, created_at
		 FROM notification_deliveries
		 WHERE id = $1`,
		deliveryID,
	)
	d, err := scanDelivery(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "notification delivery not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get delivery", err)
	}
	return d, nil
}

// ListDeliveriesForGeneration returns all delivery rows for one generation,
// ordered by channel type for stable output.
func (r *DeliveryRepository) ListDeliveriesForGeneration(ctx context.Context, generationID string) ([]*types.NotificationDelivery, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, generation_id, channel_type, status, attempt_count,
		        failure_reason, last_attempt_at, delivered_at, created_at
		 FROM notification_deliveries
		 WHERE generation_id = $1
		 ORDER BY channel_type`,
		generationID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list deliveries", err)
	}
	defer rows.Close()

	var results []*types.NotificationDelivery
	for rows.Next() {
		d, scanErr := scanDelivery(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery row", scanErr)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery rows", err)
	}

	return results, nil
}

// DeleteBefore hard-deletes delivery rows older than the cutoff time. Used
// for retention cleanup. Returns the count of deleted records.
func (r *DeliveryRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_deliveries WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old deliveries", err)
	}
	return tag.RowsAffected(), nil
}

// scanDelivery scans a single notification_deliveries row. Handles nullable
// columns using pointer types.
func scanDelivery(row pgx.Row) (*types.NotificationDelivery, error) {
	var (
		d             types.NotificationDelivery
		channelType   string
		status        string
		failureReason *string
	)

	err := row.Scan(
		&d.ID,
		&d.GenerationID,
		&channelType,
		&status,
		&d.AttemptCount,
		&failureReason,
		&d.LastAttemptAt,
		&d.DeliveredAt,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ChannelType = types.ChannelType(channelType)
	d.Status = types.DeliveryStatus(status)
	if failureReason != nil {
		d.FailureReason = *failureReason
	}

	return &d, nil
}

// nilIfEmpty returns nil for empty strings so NULL is stored instead of "".
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
