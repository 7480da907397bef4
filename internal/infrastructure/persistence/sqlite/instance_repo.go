package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// InstanceRepository implements port.InstanceRepository. The instance is
// stored as one JSON document; the other columns mirror it for filtering.
type InstanceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	doc, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (
			id, graph_ref, payment_request_id, org_id, status,
			document, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.getExecutor(ctx).ExecContext(ctx, query,
		instance.ID,
		instance.GraphRef,
		instance.PaymentRequestID,
		instance.OrgID,
		string(instance.Status),
		string(doc),
		instance.CreatedAt.UTC(),
		instance.UpdatedAt.UTC(),
		nullTime(instance.CompletedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("instance_id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// Save replaces the stored document of an existing instance
func (r *InstanceRepository) Save(ctx context.Context, instance *entity.WorkflowInstance) error {
	doc, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	query := `
		UPDATE workflow_instances
		SET status = ?, document = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		string(instance.Status),
		string(doc),
		instance.UpdatedAt.UTC(),
		nullTime(instance.CompletedAt),
		instance.ID,
	)
	if err != nil {
		r.logger.Error("Failed to save instance", zap.String("instance_id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to save instance: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("instance %s does not exist", instance.ID)
	}
	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	var doc string
	err := r.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT document FROM workflow_instances WHERE id = ?`, id,
	).Scan(&doc)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.String("instance_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return decodeInstance(doc)
}

// List retrieves instances matching filter, oldest first
func (r *InstanceRepository) List(ctx context.Context, filter entity.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.PaymentRequestID != "" {
		where = append(where, "payment_request_id = ?")
		args = append(args, filter.PaymentRequestID)
	}

	query := `SELECT document FROM workflow_instances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		inst, err := decodeInstance(doc)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func decodeInstance(doc string) (*entity.WorkflowInstance, error) {
	var inst entity.WorkflowInstance
	if err := json.Unmarshal([]byte(doc), &inst); err != nil {
		return nil, fmt.Errorf("failed to decode instance: %w", err)
	}
	if inst.NodeStates == nil {
		inst.NodeStates = make(map[string]*entity.NodeState)
	}
	return &inst, nil
}
