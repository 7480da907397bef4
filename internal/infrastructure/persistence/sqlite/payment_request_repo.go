package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// PaymentRequestRepository implements port.PaymentRequestRepository
type PaymentRequestRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPaymentRequestRepository creates a new payment request repository
func NewPaymentRequestRepository(db *DB, logger *zap.Logger) port.PaymentRequestRepository {
	return &PaymentRequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new payment request
func (r *PaymentRequestRepository) Create(ctx context.Context, req *entity.PaymentRequest) error {
	query := `
		INSERT INTO payment_requests (
			id, org_id, requester_id, amount, currency, category,
			description, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		req.ID,
		req.OrgID,
		req.RequesterID,
		req.Amount,
		req.Currency,
		req.Category,
		req.Description,
		req.Status,
		req.CreatedAt.UTC(),
		req.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create payment request", zap.String("request_id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to create payment request: %w", err)
	}
	return nil
}

// GetByID retrieves a payment request by ID
func (r *PaymentRequestRepository) GetByID(ctx context.Context, id string) (*entity.PaymentRequest, error) {
	query := `
		SELECT id, org_id, requester_id, amount, currency, category,
			description, status, created_at, updated_at
		FROM payment_requests
		WHERE id = ?
	`

	var req entity.PaymentRequest
	err := r.db.getExecutor(ctx).QueryRowContext(ctx, query, id).Scan(
		&req.ID,
		&req.OrgID,
		&req.RequesterID,
		&req.Amount,
		&req.Currency,
		&req.Category,
		&req.Description,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get payment request", zap.String("request_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get payment request: %w", err)
	}
	return &req, nil
}

// UpdateStatus updates the status of a payment request
func (r *PaymentRequestRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	query := `UPDATE payment_requests SET status = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.getExecutor(ctx).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update payment request status",
			zap.String("request_id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to update payment request status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("payment request %s does not exist", id)
	}
	return nil
}
