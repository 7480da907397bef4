package sqlite

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// TimerRepository implements port.TimerRepository. There is at most one
// armed timer per (instance, node).
type TimerRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTimerRepository creates a new timer repository
func NewTimerRepository(db *DB, logger *zap.Logger) port.TimerRepository {
	return &TimerRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert stores a timer, replacing any timer already armed for the same node
func (r *TimerRepository) Upsert(ctx context.Context, timer *entity.TimerRecord) error {
	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO workflow_timers (instance_id, node_id, kind, fire_at, interval_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, node_id) DO UPDATE SET
			kind = excluded.kind,
			fire_at = excluded.fire_at,
			interval_ns = excluded.interval_ns,
			created_at = excluded.created_at
	`

	_, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		timer.InstanceID,
		timer.NodeID,
		timer.Kind,
		timer.FireAt.UTC(),
		int64(timer.Interval),
		timer.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to upsert timer",
			zap.String("instance_id", timer.InstanceID), zap.String("node_id", timer.NodeID), zap.Error(err))
		return fmt.Errorf("failed to upsert timer: %w", err)
	}
	return nil
}

// Delete removes the timer of a node. Deleting a missing timer is not an error.
func (r *TimerRepository) Delete(ctx context.Context, instanceID, nodeID string) error {
	_, err := r.db.getExecutor(ctx).ExecContext(ctx,
		`DELETE FROM workflow_timers WHERE instance_id = ? AND node_id = ?`, instanceID, nodeID)
	if err != nil {
		r.logger.Error("Failed to delete timer",
			zap.String("instance_id", instanceID), zap.String("node_id", nodeID), zap.Error(err))
		return fmt.Errorf("failed to delete timer: %w", err)
	}
	return nil
}

// List returns every armed timer, earliest deadline first
func (r *TimerRepository) List(ctx context.Context) ([]*entity.TimerRecord, error) {
	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, `
		SELECT instance_id, node_id, kind, fire_at, interval_ns, created_at
		FROM workflow_timers
		ORDER BY fire_at ASC, instance_id ASC, node_id ASC
	`)
	if err != nil {
		r.logger.Error("Failed to list timers", zap.Error(err))
		return nil, fmt.Errorf("failed to list timers: %w", err)
	}
	defer rows.Close()

	var timers []*entity.TimerRecord
	for rows.Next() {
		var (
			timer    entity.TimerRecord
			interval int64
		)
		if err := rows.Scan(
			&timer.InstanceID,
			&timer.NodeID,
			&timer.Kind,
			&timer.FireAt,
			&interval,
			&timer.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}
		timer.Interval = time.Duration(interval)
		timers = append(timers, &timer)
	}
	return timers, rows.Err()
}
