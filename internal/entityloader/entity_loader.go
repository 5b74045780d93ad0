package entityloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// EntityLoader batches entity lookups by id. Soft-deleted entities resolve to
// a not-found error.
type EntityLoader struct {
	Loader *dataloader.Loader
}

func NewEntityLoader(repo repository.EntityRepository) *EntityLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		ids := make([]uuid.UUID, 0, len(keys))
		parsed := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: fmt.Errorf("invalid UUID: %w", err)}
				continue
			}
			parsed[i] = id
			ids = append(ids, id)
		}

		entities, err := repo.List(ctx, repository.EntityFilter{IDs: ids})
		if err != nil {
			for i := range results {
				if results[i] == nil {
					results[i] = &dataloader.Result{Error: err}
				}
			}
			return results
		}

		entityMap := make(map[uuid.UUID]domain.Entity, len(entities))
		for _, e := range entities {
			entityMap[e.ID] = e
		}

		for i, id := range parsed {
			if results[i] != nil {
				continue
			}
			if e, ok := entityMap[id]; ok {
				results[i] = &dataloader.Result{Data: e}
			} else {
				results[i] = &dataloader.Result{Error: domain.NewNotFoundError("entity", id)}
			}
		}

		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn,
		dataloader.WithWait(time.Millisecond),
		dataloader.WithCache(&dataloader.NoCache{}),
	)

	return &EntityLoader{Loader: loader}
}

// Load resolves a single entity.
func (l *EntityLoader) Load(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	data, err := l.Loader.Load(ctx, dataloader.StringKey(id.String()))()
	if err != nil {
		return domain.Entity{}, err
	}
	return data.(domain.Entity), nil
}

// LoadMany resolves several entities in one batch. The returned slice is
// aligned with ids; the error joins every per-key failure.
func (l *EntityLoader) LoadMany(ctx context.Context, ids []uuid.UUID) ([]domain.Entity, error) {
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}

	data, errs := l.Loader.LoadMany(ctx, keys)()
	entities := make([]domain.Entity, len(ids))
	for i := range data {
		if e, ok := data[i].(domain.Entity); ok {
			entities[i] = e
		}
	}
	for _, err := range errs {
		if err != nil {
			return entities, err
		}
	}
	return entities, nil
}
