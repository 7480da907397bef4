package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/graph"
)

// GraphRepository implements port.GraphRepository
type GraphRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGraphRepository creates a new graph repository
func NewGraphRepository(db *DB, logger *zap.Logger) port.GraphRepository {
	return &GraphRepository{
		db:     db,
		logger: logger,
	}
}

// Save inserts or replaces a named graph definition. Running instances are
// unaffected because they reference revisions.
func (r *GraphRepository) Save(ctx context.Context, g *graph.Graph) error {
	if g.ID == "" {
		return fmt.Errorf("graph id is required")
	}
	def, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO workflow_graphs (id, name, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.getExecutor(ctx).ExecContext(ctx, query, g.ID, g.Name, string(def), now, now); err != nil {
		r.logger.Error("Failed to save graph", zap.String("graph_id", g.ID), zap.Error(err))
		return fmt.Errorf("failed to save graph: %w", err)
	}
	return nil
}

// GetByID retrieves a graph definition by ID
func (r *GraphRepository) GetByID(ctx context.Context, id string) (*graph.Graph, error) {
	var def string
	err := r.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT definition FROM workflow_graphs WHERE id = ?`, id,
	).Scan(&def)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get graph", zap.String("graph_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get graph: %w", err)
	}

	var g graph.Graph
	if err := json.Unmarshal([]byte(def), &g); err != nil {
		return nil, fmt.Errorf("failed to decode graph %s: %w", id, err)
	}
	return &g, nil
}

// SaveRevision inserts a frozen definition under ref. An existing ref keeps
// its original definition.
func (r *GraphRepository) SaveRevision(ctx context.Context, ref string, g *graph.Graph) error {
	if ref == "" {
		return fmt.Errorf("graph revision ref is required")
	}
	def, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}

	query := `
		INSERT INTO graph_revisions (ref, graph_id, definition, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ref) DO NOTHING
	`

	if _, err := r.db.getExecutor(ctx).ExecContext(ctx, query, ref, g.ID, string(def), time.Now().UTC()); err != nil {
		r.logger.Error("Failed to save graph revision", zap.String("ref", ref), zap.Error(err))
		return fmt.Errorf("failed to save graph revision: %w", err)
	}
	return nil
}

// GetRevision retrieves the definition stored under ref
func (r *GraphRepository) GetRevision(ctx context.Context, ref string) (*graph.Graph, error) {
	var def string
	err := r.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT definition FROM graph_revisions WHERE ref = ?`, ref,
	).Scan(&def)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get graph revision", zap.String("ref", ref), zap.Error(err))
		return nil, fmt.Errorf("failed to get graph revision: %w", err)
	}

	var g graph.Graph
	if err := json.Unmarshal([]byte(def), &g); err != nil {
		return nil, fmt.Errorf("failed to decode graph revision %s: %w", ref, err)
	}
	return &g, nil
}
