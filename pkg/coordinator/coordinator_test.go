// SPDX-License-Identifier: Apache-2.0

package coordinator_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshapedb/reshape/internal/testutils"
	"github.com/reshapedb/reshape/pkg/coordinator"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/migrations"
	"github.com/reshapedb/reshape/pkg/state"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func usersMigration(name string) *migrations.Migration {
	return &migrations.Migration{
		Name: name,
		Actions: migrations.Actions{
			&migrations.CreateTable{
				Name: "users",
				Columns: []migrations.Column{
					{Name: "id", Type: "serial"},
					{Name: "name", Type: "varchar(255)"},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}
}

func TestMigrateIsIdempotentWhenAlreadyUpToDate(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))
		c := coordinator.New(db.NewLocker(conn), store)

		desired := []*migrations.Migration{usersMigration("01_add_users")}
		require.NoError(t, c.Migrate(ctx, desired, nil))
		require.NoError(t, c.Complete(ctx))

		// Re-running the same desired set should be a no-op, not an error.
		assert.NoError(t, c.Migrate(ctx, desired, nil))
	})
}

func TestMigrateRefusesADifferentMigrationWhileApplying(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))
		c := coordinator.New(db.NewLocker(conn), store)

		require.NoError(t, store.Save(ctx, &state.MigrationState{Phase: state.PhaseApplying, Migrations: []*migrations.Migration{usersMigration("01_add_users")}}))

		err := c.Migrate(ctx, []*migrations.Migration{usersMigration("01_add_something_else")}, nil)
		assert.ErrorIs(t, err, coordinator.ErrMigrationsDiffer)
	})
}

func TestCompleteWithoutAnInProgressMigrationFails(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))
		c := coordinator.New(db.NewLocker(conn), store)
		require.NoError(t, store.Save(ctx, &state.MigrationState{Phase: state.PhaseApplying, Migrations: []*migrations.Migration{usersMigration("01_add_users")}}))

		assert.ErrorIs(t, c.Complete(ctx), coordinator.ErrWrongPhase)
	})
}

func TestAbortFromIdleIsANoOp(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))
		c := coordinator.New(db.NewLocker(conn), store)

		assert.NoError(t, c.Abort(ctx))
	})
}

func TestAbortAfterCompleteIsANoOp(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))
		c := coordinator.New(db.NewLocker(conn), store)

		require.NoError(t, c.Migrate(ctx, []*migrations.Migration{usersMigration("01_add_users")}, nil))
		require.NoError(t, c.Complete(ctx))

		assert.NoError(t, c.Abort(ctx))
	})
}

func TestMigrateThenAbortDropsTheTargetNamespaceAndTable(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))
		c := coordinator.New(db.NewLocker(conn), store)

		mig := usersMigration("01_add_users")
		require.NoError(t, c.Migrate(ctx, []*migrations.Migration{mig}, nil))
		require.NoError(t, c.Abort(ctx))

		var tableCount int
		require.NoError(t, sqlDB.QueryRow(`
			SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'users'
		`).Scan(&tableCount))
		assert.Zero(t, tableCount)

		var nsCount int
		require.NoError(t, sqlDB.QueryRow(`
			SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = $1
		`, coordinator.NamespaceName(mig.Name)).Scan(&nsCount))
		assert.Zero(t, nsCount)
	})
}

func TestRemoveTearsDownEverything(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, _ string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)
		store := state.New(conn)
		require.NoError(t, store.Init(ctx))
		c := coordinator.New(db.NewLocker(conn), store)

		mig := usersMigration("01_add_users")
		require.NoError(t, c.Migrate(ctx, []*migrations.Migration{mig}, nil))
		require.NoError(t, c.Complete(ctx))

		require.NoError(t, c.Remove(ctx))

		var tableCount int
		require.NoError(t, sqlDB.QueryRow(`
			SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'users'
		`).Scan(&tableCount))
		assert.Zero(t, tableCount)

		var schemaCount int
		require.NoError(t, sqlDB.QueryRow(`
			SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = 'reshape'
		`).Scan(&schemaCount))
		assert.Zero(t, schemaCount)
	})
}
