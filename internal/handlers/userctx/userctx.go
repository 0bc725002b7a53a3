package userctx

import (
	"context"

	"github.com/nkiryanov/authcore/internal/models"
)

type ctxKey string

const userKey ctxKey = "user"

// Create a new context with the authenticated user
func New(ctx context.Context, u models.AuthUser) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// Extract the user from the context
func FromContext(ctx context.Context) (models.AuthUser, bool) {
	u, ok := ctx.Value(userKey).(models.AuthUser)
	return u, ok
}
