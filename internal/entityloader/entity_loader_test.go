package entityloader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/repository"
)

func seed(t *testing.T, store *repository.MemoryStore, name string, deleted bool) domain.Entity {
	t.Helper()
	e := domain.Entity{AppID: uuid.New(), Name: name}
	if deleted {
		now := time.Now()
		e.DeletedAt = &now
	}
	created, err := store.Entities().Create(context.Background(), e)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return created
}

func TestLoadResolvesLiveEntities(t *testing.T) {
	store := repository.NewMemoryStore()
	order := seed(t, store, "Order", false)
	gone := seed(t, store, "Gone", true)
	loader := NewEntityLoader(store.Entities())
	ctx := context.Background()

	got, err := loader.Load(ctx, order.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "Order" {
		t.Fatalf("expected Order, got %q", got.Name)
	}

	for _, id := range []uuid.UUID{gone.ID, uuid.New()} {
		if _, err := loader.Load(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found for %s, got %v", id, err)
		}
	}
}

func TestLoadManyAlignsWithKeys(t *testing.T) {
	store := repository.NewMemoryStore()
	order := seed(t, store, "Order", false)
	item := seed(t, store, "Item", false)
	loader := NewEntityLoader(store.Entities())

	entities, err := loader.LoadMany(context.Background(), []uuid.UUID{item.ID, order.ID})
	if err != nil {
		t.Fatalf("load many: %v", err)
	}
	if len(entities) != 2 || entities[0].ID != item.ID || entities[1].ID != order.ID {
		t.Fatalf("expected results in key order, got %+v", entities)
	}

	_, err = loader.LoadMany(context.Background(), []uuid.UUID{order.ID, uuid.New()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for missing key, got %v", err)
	}
}

type countingRepo struct {
	repository.EntityRepository
	lists atomic.Int32
}

func (r *countingRepo) List(ctx context.Context, filter repository.EntityFilter) ([]domain.Entity, error) {
	r.lists.Add(1)
	return r.EntityRepository.List(ctx, filter)
}

func TestLoadManyQueriesOnce(t *testing.T) {
	store := repository.NewMemoryStore()
	ids := []uuid.UUID{
		seed(t, store, "Order", false).ID,
		seed(t, store, "Item", false).ID,
		seed(t, store, "Customer", false).ID,
	}
	repo := &countingRepo{EntityRepository: store.Entities()}

	entities, err := NewEntityLoader(repo).LoadMany(context.Background(), ids)
	if err != nil {
		t.Fatalf("load many: %v", err)
	}
	if len(entities) != len(ids) {
		t.Fatalf("expected %d entities, got %d", len(ids), len(entities))
	}
	if n := repo.lists.Load(); n != 1 {
		t.Fatalf("expected one batched list, got %d", n)
	}
}
