// SPDX-License-Identifier: Apache-2.0

package backfill_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reshapedb/reshape/internal/testutils"
	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestBatchTouchRowsSweepsEveryRow(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, connStr string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)

		_, err := sqlDB.ExecContext(ctx, `CREATE TABLE widgets (id INT PRIMARY KEY, touches INT NOT NULL DEFAULT 0)`)
		require.NoError(t, err)

		for i := 1; i <= 12; i++ {
			_, err := sqlDB.ExecContext(ctx, `INSERT INTO widgets (id) VALUES ($1)`, i)
			require.NoError(t, err)
		}

		_, err = sqlDB.ExecContext(ctx, `
			CREATE OR REPLACE FUNCTION count_touches() RETURNS TRIGGER AS $$
			BEGIN
				NEW.touches = OLD.touches + 1;
				RETURN NEW;
			END; $$ LANGUAGE plpgsql;
			CREATE TRIGGER count_touches BEFORE UPDATE ON widgets
			FOR EACH ROW EXECUTE FUNCTION count_touches();
		`)
		require.NoError(t, err)

		cfg := backfill.NewConfig(backfill.WithBatchDelay(0))
		err = backfill.BatchTouchRows(ctx, conn, "widgets", "", cfg)
		require.NoError(t, err)

		var untouched int
		require.NoError(t, sqlDB.QueryRowContext(ctx, `SELECT count(*) FROM widgets WHERE touches = 0`).Scan(&untouched))
		require.Equal(t, 0, untouched)
	})
}

func TestBatchTouchRowsRequiresPrimaryKey(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(sqlDB *sql.DB, connStr string) {
		ctx := context.Background()
		conn := db.NewConn(sqlDB)

		_, err := sqlDB.ExecContext(ctx, `CREATE TABLE no_pk (id INT)`)
		require.NoError(t, err)

		err = backfill.BatchTouchRows(ctx, conn, "no_pk", "", backfill.NewConfig())
		require.ErrorAs(t, err, &backfill.NoPrimaryKeyError{})
	})
}
