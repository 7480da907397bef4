// Package approver turns an approval node's approver spec into concrete users.
package approver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/graph"
)

// Resolver resolves approver specs through the identity directory
type Resolver struct {
	users port.UserDirectory
}

// NewResolver creates a resolver backed by the given directory
func NewResolver(users port.UserDirectory) *Resolver {
	return &Resolver{users: users}
}

// Resolve returns the active users eligible to decide for spec within orgID.
// An empty result is not an error here; the caller decides how to treat it.
func (r *Resolver) Resolve(ctx context.Context, spec graph.ApproverSpec, orgID string) ([]*entity.User, error) {
	value := strings.TrimSpace(spec.Value)
	if value == "" {
		return nil, nil
	}

	switch spec.Type {
	case graph.ApproverUser:
		user, err := r.users.GetByID(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("failed to look up approver %s: %w", value, err)
		}
		if user == nil || !user.Active {
			return nil, nil
		}
		return []*entity.User{user}, nil

	case graph.ApproverRole:
		users, err := r.users.ListByRole(ctx, orgID, value)
		if err != nil {
			return nil, fmt.Errorf("failed to list users with role %s: %w", value, err)
		}
		return activeUnique(users), nil

	default:
		return nil, fmt.Errorf("unknown approver type %q", spec.Type)
	}
}

// ResolveIDs looks up the given user ids, dropping unknown and inactive users
// and duplicates. The result is ordered by id.
func (r *Resolver) ResolveIDs(ctx context.Context, ids []string) ([]*entity.User, error) {
	users := make([]*entity.User, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		user, err := r.users.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user %s: %w", id, err)
		}
		if user != nil {
			users = append(users, user)
		}
	}
	return activeUnique(users), nil
}

func activeUnique(users []*entity.User) []*entity.User {
	seen := make(map[string]bool, len(users))
	out := make([]*entity.User, 0, len(users))
	for _, u := range users {
		if u == nil || !u.Active || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the ids of users, in order
func IDs(users []*entity.User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}
