// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshapedb/reshape/internal/testutils"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/migrations"
	"github.com/reshapedb/reshape/pkg/state"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestLoadDefaultsToIdleWhenNoStateSaved(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))

		st, err := store.Load(ctx)
		require.NoError(t, err)
		assert.True(t, st.Idle())
		assert.Empty(t, st.Migrations)
	})
}

func TestSaveThenLoadRoundTripsState(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))

		want := &state.MigrationState{
			Phase: state.PhaseInProgress,
			Migrations: []*migrations.Migration{
				{Name: "01_add_users"},
				{Name: "02_add_age"},
			},
			CurrentMigrationIndex: 1,
			CurrentActionIndex:    2,
		}
		require.NoError(t, store.Save(ctx, want))

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Phase, got.Phase)
		assert.Equal(t, want.CurrentMigrationIndex, got.CurrentMigrationIndex)
		assert.Equal(t, want.CurrentActionIndex, got.CurrentActionIndex)
		require.Len(t, got.Migrations, 2)
		assert.Equal(t, "01_add_users", got.Migrations[0].Name)
		assert.Equal(t, "02_add_age", got.Migrations[1].Name)
	})
}

func TestRemainingMigrationsReturnsUnloggedSuffix(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))

		logged := []*migrations.Migration{{Name: "01_add_users", Actions: migrations.Actions{}}}
		tx, err := conn.Transaction(ctx)
		require.NoError(t, err)
		require.NoError(t, state.SaveMigrations(ctx, tx, logged))
		require.NoError(t, tx.Commit())

		desired := []*migrations.Migration{
			{Name: "01_add_users"},
			{Name: "02_add_age"},
		}
		remaining, err := store.RemainingMigrations(ctx, desired)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, "02_add_age", remaining[0].Name)
	})
}

func TestRemainingMigrationsDetectsDivergence(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))

		logged := []*migrations.Migration{{Name: "01_add_users", Actions: migrations.Actions{}}}
		tx, err := conn.Transaction(ctx)
		require.NoError(t, err)
		require.NoError(t, state.SaveMigrations(ctx, tx, logged))
		require.NoError(t, tx.Commit())

		desired := []*migrations.Migration{{Name: "01_add_something_else"}}
		_, err = store.RemainingMigrations(ctx, desired)
		assert.ErrorIs(t, err, state.ErrMigrationsDiverge)
	})
}

func TestCurrentMigrationReturnsEmptyBeforeAnyCompletion(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))

		name, err := store.CurrentMigration(ctx)
		require.NoError(t, err)
		assert.Empty(t, name)
	})
}
