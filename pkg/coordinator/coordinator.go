// SPDX-License-Identifier: Apache-2.0

// Package coordinator implements the coordinator (component G): the
// migrate/complete/abort/remove state machine that drives a migration
// across its lifecycle (spec §4.7), calling into the action kernel
// (pkg/migrations), the virtual schema model (pkg/schema) and the
// backfill engine (pkg/backfill), all under the database gateway's
// (pkg/db) single advisory lock.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/migrations"
	"github.com/reshapedb/reshape/pkg/schema"
	"github.com/reshapedb/reshape/pkg/state"
)

// ErrWrongPhase is returned when an operation is requested while the
// persisted state machine is in a phase that can't service it (spec §7:
// "state-machine violation").
var ErrWrongPhase = errors.New("reshape: operation not valid in the current migration phase")

// ErrMigrationsDiffer is returned by Migrate when Applying is already in
// progress for a different set of migrations than the one passed in
// (spec §7: "re-apply mismatch").
var ErrMigrationsDiffer = errors.New("reshape: a different migration is already applying; run abort first")

// Coordinator drives the migration lifecycle against a single database,
// serializing every operation behind the gateway's advisory lock.
type Coordinator struct {
	locker *db.Locker
	store  *state.Store
}

// New returns a Coordinator backed by locker and store. The caller must
// have already called store.Init once.
func New(locker *db.Locker, store *state.Store) *Coordinator {
	return &Coordinator{locker: locker, store: store}
}

// Migrate advances the database towards desired (spec §4.7 "migrate").
// If the database is already up to date, it returns nil without doing
// anything. bf, if non-nil, configures the batch delay and progress
// callbacks every action's backfill sweep uses; a nil bf uses the
// backfill engine's defaults.
func (c *Coordinator) Migrate(ctx context.Context, desired []*migrations.Migration, bf *backfill.Config) error {
	return c.locker.Lock(ctx, func(ctx context.Context, conn db.DB) error {
		return c.migrate(ctx, conn, desired, bf)
	})
}

func (c *Coordinator) migrate(ctx context.Context, conn db.DB, desired []*migrations.Migration, bf *backfill.Config) error {
	st, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	switch st.Phase {
	case state.PhaseInProgress:
		return fmt.Errorf("%w: a migration is in progress; run complete or abort first", ErrWrongPhase)
	case state.PhaseCompleting:
		return fmt.Errorf("%w: a migration is completing; run complete to finish it", ErrWrongPhase)
	case state.PhaseApplying:
		if !st.SameMigrations(desired) {
			return ErrMigrationsDiffer
		}
		// Re-entering Applying with the same list: fall through and
		// re-run idempotently.
	case state.PhaseAborting:
		return fmt.Errorf("%w: a previous migration is still aborting; run abort to finish it", ErrWrongPhase)
	}

	remaining, err := c.store.RemainingMigrations(ctx, desired)
	if err != nil {
		return fmt.Errorf("computing remaining migrations: %w", err)
	}
	if len(remaining) == 0 {
		return nil
	}

	st = &state.MigrationState{Phase: state.PhaseApplying, Migrations: remaining}
	if err := c.store.Save(ctx, st); err != nil {
		return fmt.Errorf("persisting applying state: %w", err)
	}

	target := remaining[len(remaining)-1]
	if err := migrations.InstallIsNewSchemaHelper(ctx, conn, target.Name); err != nil {
		return err
	}

	virt := schema.New()
	failedMI, failedAI, runErr := c.runActions(ctx, conn, remaining, virt, bf)
	if runErr != nil {
		// Bound the abort sweep one-past the failed action, so the action
		// that failed mid-Run (and may have partially applied DDL) is
		// itself aborted too (spec §4.7 step 5, §7).
		if abortErr := c.abortFrom(ctx, conn, remaining, failedMI, failedAI+1); abortErr != nil {
			return fmt.Errorf("aborting after failed migration (%w): %w", runErr, abortErr)
		}
		return runErr
	}

	if err := createNamespace(ctx, conn, virt, target.Name); err != nil {
		return fmt.Errorf("creating namespace for %q: %w", target.Name, err)
	}

	st = &state.MigrationState{Phase: state.PhaseInProgress, Migrations: remaining}
	if err := c.store.Save(ctx, st); err != nil {
		return fmt.Errorf("persisting in-progress state: %w", err)
	}
	return nil
}

// runActions runs every action of every migration in order. On failure it
// returns the (migration, action) index that failed, so the caller can
// bound the subsequent abort sweep to cover exactly what Run may have
// partially applied.
func (c *Coordinator) runActions(ctx context.Context, conn db.DB, migs []*migrations.Migration, virt *schema.Schema, bf *backfill.Config) (int, int, error) {
	for mi, mig := range migs {
		for ai, act := range mig.Actions {
			mctx := migrations.Context{MigrationIndex: mi, ActionIndex: ai}
			if err := act.Run(ctx, mctx, conn, virt, bf); err != nil {
				return mi, ai, fmt.Errorf("running action %d (%s) of migration %q: %w", ai, act.Describe(), mig.Name, err)
			}
			act.UpdateSchema(mctx, virt)
		}
	}
	return 0, 0, nil
}

// Complete finalizes an in-progress migration, collapsing the dual-schema
// window (spec §4.7 "complete"). It is safe to call repeatedly: each
// action's Complete step persists its own advancement, so a crashed
// Complete resumes exactly where it left off.
func (c *Coordinator) Complete(ctx context.Context) error {
	return c.locker.Lock(ctx, func(ctx context.Context, conn db.DB) error {
		return c.complete(ctx, conn)
	})
}

func (c *Coordinator) complete(ctx context.Context, conn db.DB) error {
	st, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	switch st.Phase {
	case state.PhaseIdle:
		return nil
	case state.PhaseApplying:
		return fmt.Errorf("%w: migration is still applying; run migrate again to finish DDL first", ErrWrongPhase)
	case state.PhaseAborting:
		return fmt.Errorf("%w: migration is aborting; run abort to finish, not complete", ErrWrongPhase)
	}

	if st.Phase == state.PhaseInProgress {
		previous, err := c.store.CurrentMigration(ctx)
		if err != nil {
			return fmt.Errorf("reading current migration: %w", err)
		}
		if previous != "" {
			if err := dropNamespace(ctx, conn, previous); err != nil {
				return fmt.Errorf("dropping previous namespace: %w", err)
			}
		}

		st = &state.MigrationState{
			Phase:      state.PhaseCompleting,
			Migrations: st.Migrations,
		}
		if err := c.store.Save(ctx, st); err != nil {
			return fmt.Errorf("persisting completing state: %w", err)
		}
	}

	if err := c.runCompletions(ctx, conn, st); err != nil {
		return err
	}

	if err := migrations.DropIsNewSchemaHelper(ctx, conn); err != nil {
		return err
	}

	tx, err := conn.Transaction(ctx)
	if err != nil {
		return fmt.Errorf("starting final completion transaction: %w", err)
	}
	if err := state.SaveMigrations(ctx, tx, st.Migrations); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("logging completed migrations: %w", err)
	}
	if err := c.store.SaveTx(ctx, tx, &state.MigrationState{Phase: state.PhaseIdle}); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("persisting idle state: %w", err)
	}
	return tx.Commit()
}

// runCompletions drives every action from st's persisted
// (CurrentMigrationIndex, CurrentActionIndex) forward, persisting the
// advanced position after each action so a crash mid-Completing resumes
// exactly where it left off (spec §4.7 step 3).
func (c *Coordinator) runCompletions(ctx context.Context, conn db.DB, st *state.MigrationState) error {
	mi, ai := st.CurrentMigrationIndex, st.CurrentActionIndex

	for ; mi < len(st.Migrations); mi++ {
		mig := st.Migrations[mi]
		for ; ai < len(mig.Actions); ai++ {
			act := mig.Actions[ai]
			mctx := migrations.Context{MigrationIndex: mi, ActionIndex: ai}

			tx, err := act.Complete(ctx, mctx, conn)
			if err != nil {
				return fmt.Errorf("completing action %d (%s) of migration %q: %w", ai, act.Describe(), mig.Name, err)
			}

			next := advance(st, mi, ai, len(mig.Actions))
			if tx != nil {
				if err := c.store.SaveTx(ctx, tx, next); err != nil {
					_ = tx.Rollback()
					return fmt.Errorf("persisting completion progress: %w", err)
				}
				if err := tx.Commit(); err != nil {
					return fmt.Errorf("committing completion progress: %w", err)
				}
			} else if err := c.store.Save(ctx, next); err != nil {
				return fmt.Errorf("persisting completion progress: %w", err)
			}
			st = next
		}
		ai = 0
	}
	return nil
}

// advance returns the MigrationState with the completing cursor moved
// one step past (mi, ai).
func advance(st *state.MigrationState, mi, ai, actionsInMigration int) *state.MigrationState {
	nextAI := ai + 1
	nextMI := mi
	if nextAI >= actionsInMigration {
		nextAI = 0
		nextMI = mi + 1
	}
	return &state.MigrationState{
		Phase:                 state.PhaseCompleting,
		Migrations:            st.Migrations,
		CurrentMigrationIndex: nextMI,
		CurrentActionIndex:    nextAI,
	}
}

// Abort unwinds an Applying or InProgress migration, restoring the
// physical schema to its pre-migration state (spec §4.7 "abort").
// Calling Abort from Idle is a no-op; calling it after Completing is
// refused, since completion is one-way.
func (c *Coordinator) Abort(ctx context.Context) error {
	return c.locker.Lock(ctx, func(ctx context.Context, conn db.DB) error {
		return c.abort(ctx, conn)
	})
}

func (c *Coordinator) abort(ctx context.Context, conn db.DB) error {
	st, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	switch st.Phase {
	case state.PhaseIdle:
		return nil
	case state.PhaseCompleting:
		return fmt.Errorf("%w: migration has already started completing and cannot be aborted", ErrWrongPhase)
	case state.PhaseApplying, state.PhaseInProgress:
		target := st.TargetMigration()
		if target != nil {
			if err := dropNamespace(ctx, conn, target.Name); err != nil {
				return fmt.Errorf("dropping target namespace: %w", err)
			}
		}
		return c.abortFrom(ctx, conn, st.Migrations, math.MaxInt, math.MaxInt)
	case state.PhaseAborting:
		return c.abortFrom(ctx, conn, st.Migrations, st.LastMigrationIndex, st.LastActionIndex)
	}
	return nil
}

// abortFrom reverse-walks every (migration, action) pair strictly before
// (lastMI, lastAI), aborting each one and persisting the advanced lower
// bound after each step, so a crash mid-Aborting resumes exactly where
// it left off (spec §4.7 step 3, §8 property 4).
func (c *Coordinator) abortFrom(ctx context.Context, conn db.DB, migs []*migrations.Migration, lastMI, lastAI int) error {
	st := &state.MigrationState{
		Phase:              state.PhaseAborting,
		Migrations:         migs,
		LastMigrationIndex: lastMI,
		LastActionIndex:    lastAI,
	}
	if err := c.store.Save(ctx, st); err != nil {
		return fmt.Errorf("persisting aborting state: %w", err)
	}

	for mi := len(migs) - 1; mi >= 0; mi-- {
		mig := migs[mi]
		for ai := len(mig.Actions) - 1; ai >= 0; ai-- {
			if !before(mi, ai, lastMI, lastAI) {
				continue
			}

			mctx := migrations.Context{MigrationIndex: mi, ActionIndex: ai}
			act := mig.Actions[ai]
			if err := act.Abort(ctx, mctx, conn); err != nil {
				return fmt.Errorf("aborting action %d (%s) of migration %q: %w", ai, act.Describe(), mig.Name, err)
			}

			next := &state.MigrationState{
				Phase:              state.PhaseAborting,
				Migrations:         migs,
				LastMigrationIndex: mi,
				LastActionIndex:    ai,
			}
			if err := c.store.Save(ctx, next); err != nil {
				return fmt.Errorf("persisting abort progress: %w", err)
			}
			lastMI, lastAI = mi, ai
		}
	}

	if err := migrations.DropIsNewSchemaHelper(ctx, conn); err != nil {
		return err
	}
	return c.store.Save(ctx, &state.MigrationState{Phase: state.PhaseIdle})
}

// before reports whether (mi, ai) lies strictly before (boundMI, boundAI)
// in the migration/action traversal order abortFrom walks in reverse.
func before(mi, ai, boundMI, boundAI int) bool {
	if mi != boundMI {
		return mi < boundMI
	}
	return ai < boundAI
}

// Remove destructively tears down every trace of reshape from the
// database: both namespaces, every public table, every enum type, and
// the persisted state itself (spec §4.7 "remove"). Intended for dev/test
// use only.
func (c *Coordinator) Remove(ctx context.Context) error {
	return c.locker.Lock(ctx, func(ctx context.Context, conn db.DB) error {
		return c.remove(ctx, conn)
	})
}

func (c *Coordinator) remove(ctx context.Context, conn db.DB) error {
	st, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	if target := st.TargetMigration(); target != nil {
		if err := dropNamespace(ctx, conn, target.Name); err != nil {
			return fmt.Errorf("dropping target namespace: %w", err)
		}
	}
	if previous, err := c.store.CurrentMigration(ctx); err == nil && previous != "" {
		if err := dropNamespace(ctx, conn, previous); err != nil {
			return fmt.Errorf("dropping current namespace: %w", err)
		}
	}

	if err := dropAllPublicTables(ctx, conn); err != nil {
		return err
	}
	if err := dropAllEnums(ctx, conn); err != nil {
		return err
	}
	if err := migrations.DropIsNewSchemaHelper(ctx, conn); err != nil {
		return err
	}
	return c.store.Clear(ctx)
}
