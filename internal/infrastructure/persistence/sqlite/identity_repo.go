package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// UserRepository implements port.UserDirectory on the users table
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) port.UserDirectory {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, org_id, name, email, lark_open_id, role, active`

// Upsert inserts a user or updates every field of an existing one
func (r *UserRepository) Upsert(ctx context.Context, user *entity.User) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO users (` + userColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			name = excluded.name,
			email = excluded.email,
			lark_open_id = excluded.lark_open_id,
			role = excluded.role,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		user.ID,
		user.OrgID,
		user.Name,
		user.Email,
		user.LarkOpenID,
		user.Role,
		boolToInt(user.Active),
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to upsert user", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	row := r.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("user_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListByRole returns the active users of an organization holding role, ordered by ID
func (r *UserRepository) ListByRole(ctx context.Context, orgID, role string) ([]*entity.User, error) {
	rows, err := r.db.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE org_id = ? AND role = ? AND active = 1 ORDER BY id`,
		orgID, role)
	if err != nil {
		r.logger.Error("Failed to list users by role",
			zap.String("org_id", orgID), zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(s scanner) (*entity.User, error) {
	var (
		user   entity.User
		active int
	)
	if err := s.Scan(
		&user.ID,
		&user.OrgID,
		&user.Name,
		&user.Email,
		&user.LarkOpenID,
		&user.Role,
		&active,
	); err != nil {
		return nil, err
	}
	user.Active = active != 0
	return &user, nil
}

// OrganizationRepository implements port.OrganizationRepository
type OrganizationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB, logger *zap.Logger) port.OrganizationRepository {
	return &OrganizationRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts an organization or replaces its name and administrators
func (r *OrganizationRepository) Upsert(ctx context.Context, org *entity.Organization) error {
	admins := org.AdminUserIDs
	if admins == nil {
		admins = []string{}
	}
	encoded, err := json.Marshal(admins)
	if err != nil {
		return fmt.Errorf("failed to encode admin ids: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO organizations (id, name, admin_user_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			admin_user_ids = excluded.admin_user_ids,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.getExecutor(ctx).ExecContext(ctx, query, org.ID, org.Name, string(encoded), now, now); err != nil {
		r.logger.Error("Failed to upsert organization", zap.String("org_id", org.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert organization: %w", err)
	}
	return nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*entity.Organization, error) {
	var (
		org    entity.Organization
		admins string
	)
	err := r.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT id, name, admin_user_ids FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &admins)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get organization", zap.String("org_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	if err := json.Unmarshal([]byte(admins), &org.AdminUserIDs); err != nil {
		return nil, fmt.Errorf("failed to decode admin ids: %w", err)
	}
	return &org, nil
}
