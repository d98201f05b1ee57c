// SPDX-License-Identifier: Apache-2.0

package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshapedb/reshape/internal/testutils"
	"github.com/reshapedb/reshape/pkg/db"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestRunRetriesOnLockTimeout(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		setupTableLock(t, connStr, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		rdb := db.NewConn(conn)
		err := rdb.Run(ctx, "INSERT INTO test(id) VALUES (1)")
		require.NoError(t, err)
	})
}

func TestRunPropagatesContextCancellation(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx, cancel := context.WithCancel(context.Background())
		setupTableLock(t, connStr, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		rdb := db.NewConn(conn)

		go time.AfterFunc(500*time.Millisecond, cancel)

		err := rdb.Run(ctx, "INSERT INTO test(id) VALUES (1)")
		require.Error(t, err)
	})
}

func TestQueryRetriesOnLockTimeout(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		setupTableLock(t, connStr, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		rdb := db.NewConn(conn)
		rows, err := rdb.Query(ctx, "SELECT COUNT(*) FROM test")
		require.NoError(t, err)

		var count int
		err = db.ScanFirstValue(rows, &count)
		assert.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestTransactionDoesNotRetry(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		setupTableLock(t, connStr, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		rdb := db.NewConn(conn)

		tx, err := rdb.Transaction(ctx)
		require.NoError(t, err)

		// The lock is held for 2s and lock_timeout is 100ms: a
		// transaction-scoped statement must fail immediately, not retry
		// until the lock frees up.
		err = tx.Run(ctx, "LOCK TABLE test IN ACCESS EXCLUSIVE MODE")
		require.Error(t, err)
		_ = tx.Rollback()
	})
}

func TestLockerSerializesAccess(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()

		first := db.NewConn(conn)
		locker := db.NewLocker(first)

		holding := make(chan struct{})
		release := make(chan struct{})

		go locker.Lock(ctx, func(ctx context.Context, conn db.DB) error {
			close(holding)
			<-release
			return nil
		})
		<-holding

		second, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer second.Close()

		err = db.NewLocker(db.NewConn(second)).Lock(ctx, func(ctx context.Context, conn db.DB) error {
			return nil
		})
		require.ErrorIs(t, err, db.ErrAnotherInstanceRunning)

		close(release)
	})
}

func setupTableLock(t *testing.T, connStr string, d time.Duration) {
	t.Helper()
	ctx := context.Background()

	conn2, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	_, err = conn2.ExecContext(ctx, "CREATE TABLE test (id INT PRIMARY KEY)")
	require.NoError(t, err)

	errCh := make(chan error)
	go func() {
		tx, err := conn2.Begin()
		if err != nil {
			errCh <- err
			return
		}

		_, err = tx.ExecContext(ctx, "LOCK TABLE test IN ACCESS EXCLUSIVE MODE")
		if err != nil {
			errCh <- err
			return
		}

		errCh <- nil

		time.Sleep(d)
		tx.Commit()
	}()

	err = <-errCh
	require.NoError(t, err)
}

func ensureLockTimeout(t *testing.T, conn *sql.DB, ms int) {
	t.Helper()

	query := fmt.Sprintf("SET lock_timeout = '%dms'", ms)
	_, err := conn.ExecContext(context.Background(), query)
	require.NoError(t, err)

	var lockTimeout string
	err = conn.QueryRowContext(context.Background(), "SHOW lock_timeout").Scan(&lockTimeout)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%dms", ms), lockTimeout)
}
