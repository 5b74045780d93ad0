package entity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/rpattn/modelvc/internal/domain"
)

// AcquireLock marks entityID as being edited by user. The lock is advisory:
// an existing holder is overwritten.
func (s *Service) AcquireLock(ctx context.Context, entityID uuid.UUID, user domain.User) (domain.Entity, error) {
	if _, err := s.getEntity(ctx, s.store, entityID); err != nil {
		return domain.Entity{}, err
	}
	return s.acquireLock(ctx, entityID, user)
}

// acquireLock writes the lock without checking that the entity is live.
func (s *Service) acquireLock(ctx context.Context, entityID uuid.UUID, user domain.User) (domain.Entity, error) {
	if _, err := s.store.Users().Ensure(ctx, user); err != nil {
		return domain.Entity{}, err
	}

	now := s.now().UTC()
	entity, err := s.store.Entities().UpdateLock(ctx, entityID, &user.ID, &now)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return entity, nil
}

// ReleaseLock clears the lock holder and timestamp.
func (s *Service) ReleaseLock(ctx context.Context, entityID uuid.UUID) (domain.Entity, error) {
	if err := s.scopeEntity(ctx, s.store, entityID); err != nil {
		return domain.Entity{}, err
	}
	entity, err := s.store.Entities().UpdateLock(ctx, entityID, nil, nil)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to release lock: %w", err)
	}
	return entity, nil
}

// useLocking runs fn while user holds the lock on entityID. The lock is
// released on every exit path, including a cancelled ctx or a panic.
func (s *Service) useLocking(ctx context.Context, entityID uuid.UUID, user domain.User, fn func(domain.Entity) error) error {
	if _, err := s.getEntity(ctx, s.store, entityID); err != nil {
		return err
	}
	return s.withLock(ctx, entityID, user, fn)
}

// withLock is useLocking for entities that may be soft-deleted.
func (s *Service) withLock(ctx context.Context, entityID uuid.UUID, user domain.User, fn func(domain.Entity) error) (err error) {
	entity, err := s.acquireLock(ctx, entityID, user)
	if err != nil {
		return err
	}

	defer func() {
		if _, releaseErr := s.ReleaseLock(context.WithoutCancel(ctx), entityID); releaseErr != nil {
			s.logger.Error("lock release failed",
				zap.String("entity_id", entityID.String()),
				zap.String("user_id", user.ID.String()),
				zap.Error(releaseErr),
			)
			err = multierror.Append(err, releaseErr).ErrorOrNil()
		}
	}()

	return fn(entity)
}
