package middleware

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RoleKey   contextKey = "role"
	OrgIDKey  contextKey = "org_id"
)

var ErrNoContext = errors.New("value not present in request context")

// GetUserID returns the authenticated user's ID from the request context.
func GetUserID(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrNoContext
	}
	return id, nil
}

// GetRole returns the authenticated user's role from the request context.
func GetRole(ctx context.Context) (string, error) {
	role, ok := ctx.Value(RoleKey).(string)
	if !ok {
		return "", ErrNoContext
	}
	return role, nil
}

// GetOrganizationID returns the caller's organization binding, when present.
func GetOrganizationID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(OrgIDKey).(uuid.UUID)
	return id, ok
}
