package sqlite

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create records one delivery outcome
func (r *NotificationRepository) Create(ctx context.Context, record *entity.NotificationRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO notifications (
			instance_id, node_id, intent, recipient_id, status, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		record.InstanceID,
		record.NodeID,
		record.Intent,
		record.RecipientID,
		record.Status,
		record.ErrorMessage,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create notification record", zap.Error(err))
		return fmt.Errorf("failed to create notification record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	record.ID = id
	return nil
}

// GetByInstanceID retrieves the delivery outcomes of an instance in insertion order
func (r *NotificationRepository) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.NotificationRecord, error) {
	query := `
		SELECT id, instance_id, node_id, intent, recipient_id, status, error_message, created_at
		FROM notifications
		WHERE instance_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to get notifications", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer rows.Close()

	var records []*entity.NotificationRecord
	for rows.Next() {
		var record entity.NotificationRecord
		err := rows.Scan(
			&record.ID,
			&record.InstanceID,
			&record.NodeID,
			&record.Intent,
			&record.RecipientID,
			&record.Status,
			&record.ErrorMessage,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}
