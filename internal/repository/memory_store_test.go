package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/modelvc/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	appID := uuid.New()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = s.WithTx(ctx, func(tx Store) error {
			mustEntity(t, ctx, tx, appID, "Order")
			panic("unexpected")
		})
	}()

	entities, err := s.Entities().List(ctx, EntityFilter{AppID: &appID, IncludeDeleted: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entities) != 0 {
		t.Fatalf("expected rollback after panic, got %+v", entities)
	}
}

func TestMemoryStoreRollsBackOnCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	appID := uuid.New()

	err := s.WithTx(ctx, func(tx Store) error {
		mustEntity(t, ctx, tx, appID, "Order")
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}

	entities, err := s.Entities().List(context.Background(), EntityFilter{AppID: &appID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entities) != 0 {
		t.Fatalf("expected rollback after cancellation, got %+v", entities)
	}
}

func TestMemoryStoreUsesClock(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewMemoryStore(WithMemoryClock(func() time.Time { return fixed }))

	e := mustEntity(t, context.Background(), s, uuid.New(), "Order")
	if !e.CreatedAt.Equal(fixed) || !e.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected timestamps from clock, got %v / %v", e.CreatedAt, e.UpdatedAt)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	e := mustEntity(t, ctx, s, uuid.New(), "Order")
	draft := mustVersion(t, ctx, s, e, domain.CurrentVersionNumber, nil)
	f := mustField(t, ctx, s, draft.ID, "reference", "p-reference")

	f.Properties["maxLength"] = float64(1)
	stored, err := s.Fields().GetByID(ctx, f.ID)
	if err != nil {
		t.Fatalf("get field: %v", err)
	}
	if stored.Properties["maxLength"] != float64(64) {
		t.Fatalf("stored properties changed through a returned value: %#v", stored.Properties)
	}
}

func TestMemoryStoreRollbackKeepsOutsideWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	appID := uuid.New()
	other := mustEntity(t, ctx, s, appID, "Customer")
	userID := uuid.New()
	boom := errors.New("boom")

	written := make(chan error, 1)
	err := s.WithTx(ctx, func(tx Store) error {
		mustEntity(t, ctx, tx, appID, "Order")
		go func() {
			now := time.Now()
			_, err := s.Entities().UpdateLock(ctx, other.ID, &userID, &now)
			written <- err
		}()
		time.Sleep(20 * time.Millisecond)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if err := <-written; err != nil {
		t.Fatalf("update lock: %v", err)
	}

	got, err := s.Entities().GetByID(ctx, other.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LockedByUserID == nil || *got.LockedByUserID != userID {
		t.Fatalf("expected lock held by %s after unrelated rollback, got %v", userID, got.LockedByUserID)
	}
	entities, err := s.Entities().List(ctx, EntityFilter{AppID: &appID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entities) != 1 || entities[0].ID != other.ID {
		t.Fatalf("expected the failed transaction to be rolled back, got %+v", entities)
	}
}
