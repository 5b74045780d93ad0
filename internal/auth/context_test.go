package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestEnforceAppScope(t *testing.T) {
	app := uuid.New()

	if err := EnforceAppScope(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unscoped context should accept any app: %v", err)
	}

	ctx := ContextWithAppID(context.Background(), app)
	if got, ok := AppIDFromContext(ctx); !ok || got != app {
		t.Fatalf("expected scoped app %s, got %s (%v)", app, got, ok)
	}
	if err := EnforceAppScope(ctx, app); err != nil {
		t.Fatalf("expected matching app to pass: %v", err)
	}
	if err := EnforceAppScope(ctx, uuid.New()); err == nil {
		t.Fatalf("expected other app to be rejected")
	}
}

func TestNilAppIDIsUnscoped(t *testing.T) {
	ctx := ContextWithAppID(context.Background(), uuid.Nil)
	if _, ok := AppIDFromContext(ctx); ok {
		t.Fatalf("nil app id must not scope the context")
	}
}
