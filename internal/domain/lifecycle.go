package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

const (
	VersionStateDraft     = "draft"
	VersionStateCommitted = "committed"

	// VersionEventEdit is a draft self-transition used as a mutation guard.
	VersionEventEdit = "edit"
	// VersionEventFreeze turns a copy of the draft into a committed snapshot.
	VersionEventFreeze = "freeze"
)

// VersionLifecycle tracks whether an entity version may still change.
// Committed is terminal.
type VersionLifecycle struct {
	version EntityVersion
	fsm     *fsm.FSM
}

// NewVersionLifecycle starts a lifecycle in the state implied by the version.
func NewVersionLifecycle(version EntityVersion) *VersionLifecycle {
	initial := VersionStateCommitted
	if version.IsDraft() && version.CommitID == nil {
		initial = VersionStateDraft
	}

	return &VersionLifecycle{
		version: version,
		fsm: fsm.NewFSM(
			initial,
			fsm.Events{
				{Name: VersionEventEdit, Src: []string{VersionStateDraft}, Dst: VersionStateDraft},
				{Name: VersionEventFreeze, Src: []string{VersionStateDraft}, Dst: VersionStateCommitted},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current lifecycle state.
func (l *VersionLifecycle) State() string {
	return l.fsm.Current()
}

// CanEdit reports whether the version accepts mutations.
func (l *VersionLifecycle) CanEdit() bool {
	return l.fsm.Can(VersionEventEdit)
}

// Edit guards a mutation, failing with ImmutableVersionError once committed.
func (l *VersionLifecycle) Edit(ctx context.Context) error {
	return l.fire(ctx, VersionEventEdit)
}

// Freeze moves a draft copy into the committed state.
func (l *VersionLifecycle) Freeze(ctx context.Context) error {
	return l.fire(ctx, VersionEventFreeze)
}

func (l *VersionLifecycle) fire(ctx context.Context, event string) error {
	err := l.fsm.Event(ctx, event)
	if err == nil {
		return nil
	}

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return &ImmutableVersionError{EntityVersionID: l.version.ID, VersionNumber: l.version.VersionNumber}
	}

	return fmt.Errorf("version lifecycle %s: %w", event, err)
}

// EnsureDraft fails with ImmutableVersionError when version is committed.
func EnsureDraft(ctx context.Context, version EntityVersion) error {
	return NewVersionLifecycle(version).Edit(ctx)
}
