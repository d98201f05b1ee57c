// SPDX-License-Identifier: Apache-2.0

package migrations_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reshapedb/reshape/internal/testutils"
	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/coordinator"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/migrations"
	"github.com/reshapedb/reshape/pkg/state"
)

// TestCase drives one scenario through the full lifecycle the CLI itself
// uses: migrate-and-complete every migration but the last, migrate the
// last, assert, roll it back and assert, re-apply and complete it, and
// assert again. Grounded on the teacher's own op_common_test.go harness.
type TestCase struct {
	name          string
	migrations    []*migrations.Migration
	wantMigrateErr error
	afterStart    func(t *testing.T, conn *sql.DB, namespace string)
	afterRollback func(t *testing.T, conn *sql.DB)
	afterComplete func(t *testing.T, conn *sql.DB, namespace string)
}

type TestCases []TestCase

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

// ExecuteTests runs every tt in tests against a fresh schema in the
// shared container.
func ExecuteTests(t *testing.T, tests TestCases) {
	t.Helper()

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, connStr string) {
				ctx := context.Background()

				conn := db.NewConn(sqlDB)
				locker := db.NewLocker(conn)
				store := state.New(conn)
				require.NoError(t, store.Init(ctx))

				c := coordinator.New(locker, store)

				for i := 0; i < len(tt.migrations)-1; i++ {
					require.NoError(t, c.Migrate(ctx, tt.migrations[:i+1], nil))
					require.NoError(t, c.Complete(ctx))
				}

				target := tt.migrations[len(tt.migrations)-1]
				err := c.Migrate(ctx, tt.migrations, nil)
				if tt.wantMigrateErr != nil {
					if !errors.Is(err, tt.wantMigrateErr) {
						t.Fatalf("expected error %q, got %q", tt.wantMigrateErr, err)
					}
					return
				}
				require.NoError(t, err)

				if tt.afterStart != nil {
					tt.afterStart(t, sqlDB, coordinator.NamespaceName(target.Name))
				}

				require.NoError(t, c.Abort(ctx))
				if tt.afterRollback != nil {
					tt.afterRollback(t, sqlDB)
				}

				require.NoError(t, c.Migrate(ctx, tt.migrations, nil))
				require.NoError(t, c.Complete(ctx))
				if tt.afterComplete != nil {
					tt.afterComplete(t, sqlDB, coordinator.NamespaceName(target.Name))
				}
			})
		})
	}
}

// Common assertions, grounded on the teacher's ViewMustExist/MustInsert/
// MustSelect family in op_common_test.go.

func ViewMustExist(t *testing.T, conn *sql.DB, namespace, view string) {
	t.Helper()
	require.True(t, viewExists(t, conn, namespace, view), "expected view %q.%q to exist", namespace, view)
}

func ViewMustNotExist(t *testing.T, conn *sql.DB, namespace, view string) {
	t.Helper()
	require.False(t, viewExists(t, conn, namespace, view), "expected view %q.%q to not exist", namespace, view)
}

func viewExists(t *testing.T, conn *sql.DB, namespace, view string) bool {
	t.Helper()
	var exists bool
	err := conn.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM information_schema.views
			WHERE table_schema = $1 AND table_name = $2
		)`, namespace, view).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TableMustExist(t *testing.T, conn *sql.DB, table string) {
	t.Helper()
	require.True(t, tableExists(t, conn, table), "expected table %q to exist", table)
}

func TableMustNotExist(t *testing.T, conn *sql.DB, table string) {
	t.Helper()
	require.False(t, tableExists(t, conn, table), "expected table %q to not exist", table)
}

func tableExists(t *testing.T, conn *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	err := conn.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func ColumnMustExist(t *testing.T, conn *sql.DB, table, column string) {
	t.Helper()
	require.True(t, columnExists(t, conn, table, column), "expected column %q.%q to exist", table, column)
}

func ColumnMustNotExist(t *testing.T, conn *sql.DB, table, column string) {
	t.Helper()
	require.False(t, columnExists(t, conn, table, column), "expected column %q.%q to not exist", table, column)
}

func columnExists(t *testing.T, conn *sql.DB, table, column string) bool {
	t.Helper()
	var exists bool
	err := conn.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
		)`, table, column).Scan(&exists)
	require.NoError(t, err)
	return exists
}

// MustInsert inserts row into namespace.table via the namespace's view.
func MustInsert(t *testing.T, conn *sql.DB, namespace, table string, row map[string]string) {
	t.Helper()

	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}

	var colList, valList string
	for i, c := range cols {
		if i > 0 {
			colList += ", "
			valList += ", "
		}
		colList += c
		valList += "'" + row[c] + "'"
	}

	_, err := conn.Exec(fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)", namespace, table, colList, valList))
	require.NoError(t, err)
}

// MustSelect returns every row of namespace.table, ordered by the view's
// natural column order, as a slice of column-name-to-value maps.
func MustSelect(t *testing.T, conn *sql.DB, namespace, table string) []map[string]any {
	t.Helper()

	rows, err := conn.Query(fmt.Sprintf("SELECT * FROM %s.%s ORDER BY 1", namespace, table))
	require.NoError(t, err)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))

		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	require.NoError(t, rows.Err())
	return out
}

// NewTestConfig returns a backfill.Config tuned for fast tests.
func NewTestConfig() *backfill.Config {
	return backfill.NewConfig(backfill.WithBatchSize(2))
}
