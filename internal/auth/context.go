package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type contextKey string

const appIDKey contextKey = "appID"

// ContextWithAppID returns a new context restricted to one application.
func ContextWithAppID(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, appIDKey, id)
}

// AppIDFromContext retrieves the application scope from the context, if any.
func AppIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(appIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// EnforceAppScope rejects appID when the context is scoped to another
// application. Unscoped contexts accept every application.
func EnforceAppScope(ctx context.Context, appID uuid.UUID) error {
	scopedID, ok := AppIDFromContext(ctx)
	if !ok {
		return nil
	}
	if scopedID != appID {
		return fmt.Errorf("app %s does not match the scoped app %s", appID, scopedID)
	}
	return nil
}
