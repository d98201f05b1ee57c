// SPDX-License-Identifier: Apache-2.0

// Package db implements the database gateway (component A): a connection
// wrapper that retries transient failures on bare connections, enforces a
// short lock_timeout so DDL never queues for long behind application
// traffic, and exposes the single session-scoped advisory lock that
// serializes every coordinator operation across the fleet.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"

	// lockTimeout bounds how long any DDL statement waits to acquire a
	// relation lock before giving up. Not user-configurable: see spec
	// Open Question (a).
	lockTimeout = 1 * time.Second

	maxRetries       = 10
	initialBackoff   = 100 * time.Millisecond
	maxBackoff       = 3200 * time.Millisecond
	advisoryLockKey  int64 = 4036779288569897133
)

// ErrAnotherInstanceRunning is returned by Locker.Lock when the advisory
// lock is already held elsewhere.
var ErrAnotherInstanceRunning = errors.New("another instance of reshape is already running against this database")

// DB is the gateway's public surface. Every mutating or reading operation
// against the database goes through one of these four methods.
type DB interface {
	// Run executes a (possibly multi-statement) batch of SQL with no
	// result set, retrying on retryable bare-connection errors.
	Run(ctx context.Context, sql string) error

	// Query runs a SQL query and returns the resulting rows, retrying on
	// retryable bare-connection errors.
	Query(ctx context.Context, sql string) (*sql.Rows, error)

	// QueryWithParams is like Query but binds positional parameters.
	QueryWithParams(ctx context.Context, sql string, params ...any) (*sql.Rows, error)

	// Transaction starts a new transaction. Statements run against the
	// returned Tx are not retried: a lock_timeout failure inside a
	// transaction aborts the transaction, so retrying a single statement
	// would silently drop everything issued before it.
	Transaction(ctx context.Context) (TxDB, error)

	Close() error
}

// TxDB is the subset of DB available inside a transaction, plus
// savepoint support for nesting.
type TxDB interface {
	Run(ctx context.Context, sql string) error
	Query(ctx context.Context, sql string) (*sql.Rows, error)
	QueryWithParams(ctx context.Context, sql string, params ...any) (*sql.Rows, error)
	Savepoint(ctx context.Context) (string, error)
	RollbackTo(ctx context.Context, savepoint string) error
	Commit() error
	Rollback() error
}

// Conn is the default DB implementation, wrapping a *sql.DB.
type Conn struct {
	sqlDB      *sql.DB
	instanceID string
}

// Open opens a new connection to Postgres and sets the session-wide
// lock_timeout used by every subsequent statement on this connection.
func Open(ctx context.Context, dsn string) (*Conn, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	// One pooled connection keeps lock_timeout and the advisory lock on a
	// single Postgres session.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, fmt.Sprintf("SET lock_timeout = '%s'", lockTimeout)); err != nil {
		return nil, fmt.Errorf("setting lock_timeout: %w", err)
	}

	return &Conn{sqlDB: sqlDB, instanceID: uuid.NewString()}, nil
}

// NewConn wraps an already-open *sql.DB without re-issuing SET
// lock_timeout. Used by tests that manage their own connection setup.
func NewConn(sqlDB *sql.DB) *Conn {
	return &Conn{sqlDB: sqlDB, instanceID: uuid.NewString()}
}

func (c *Conn) Run(ctx context.Context, query string) error {
	return retry(ctx, func() error {
		_, err := c.sqlDB.ExecContext(ctx, query)
		return err
	})
}

func (c *Conn) Query(ctx context.Context, query string) (*sql.Rows, error) {
	return c.QueryWithParams(ctx, query)
}

func (c *Conn) QueryWithParams(ctx context.Context, query string, params ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := retry(ctx, func() error {
		var err error
		rows, err = c.sqlDB.QueryContext(ctx, query, params...)
		return err
	})
	return rows, err
}

func (c *Conn) Transaction(ctx context.Context) (TxDB, error) {
	tx, err := c.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) Close() error {
	return c.sqlDB.Close()
}

// Tx wraps a *sql.Tx. Statements run through a Tx never retry: see DB.Transaction.
type Tx struct {
	tx           *sql.Tx
	savepointSeq int
}

func (t *Tx) Run(ctx context.Context, query string) error {
	_, err := t.tx.ExecContext(ctx, query)
	return err
}

func (t *Tx) Query(ctx context.Context, query string) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query)
}

func (t *Tx) QueryWithParams(ctx context.Context, query string, params ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, params...)
}

// Savepoint establishes a nested transaction point and returns a name to
// pass to RollbackTo.
func (t *Tx) Savepoint(ctx context.Context) (string, error) {
	t.savepointSeq++
	name := fmt.Sprintf("reshape_sp_%d", t.savepointSeq)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+pq.QuoteIdentifier(name)); err != nil {
		return "", err
	}
	return name, nil
}

func (t *Tx) RollbackTo(ctx context.Context, savepoint string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+pq.QuoteIdentifier(savepoint))
	return err
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Locker serializes all coordinator work behind a single session-scoped
// Postgres advisory lock (spec §5: "at most one coordinator anywhere
// holds it"). No operation may reach the database except through Lock.
type Locker struct {
	conn *Conn
}

func NewLocker(conn *Conn) *Locker {
	return &Locker{conn: conn}
}

// Lock attempts to acquire the advisory lock and, on success, invokes f
// with the locked connection, releasing the lock on every exit path
// (including a panic unwinding through f). If another process already
// holds the lock, it returns ErrAnotherInstanceRunning immediately: no
// operation waits for the lock to free up.
func (l *Locker) Lock(ctx context.Context, f func(ctx context.Context, conn DB) error) (err error) {
	var acquired bool
	row := l.conn.sqlDB.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey)
	if scanErr := row.Scan(&acquired); scanErr != nil {
		return fmt.Errorf("acquiring advisory lock: %w", scanErr)
	}
	if !acquired {
		return ErrAnotherInstanceRunning
	}

	defer func() {
		_, unlockErr := l.conn.sqlDB.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockKey)
		if unlockErr != nil && err == nil {
			err = fmt.Errorf("releasing advisory lock: %w", unlockErr)
		}
	}()

	return f(ctx, l.conn)
}

// retry runs op, retrying up to maxRetries times with capped exponential
// backoff plus jitter when op fails with a retryable error: a
// lock_not_available (55P03) SQLSTATE, or any error that isn't a
// *pq.Error at all (a connection-level failure). Context cancellation
// always aborts immediately. The backoff schedule itself is computed by
// github.com/cloudflare/backoff, the same jittered-exponential generator
// the teacher uses for its own lock_timeout retries.
func retry(ctx context.Context, op func() error) error {
	b := backoff.New(maxBackoff, initialBackoff)

	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt >= maxRetries || !isRetryable(err) {
			return err
		}

		wait := b.Duration()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == lockNotAvailableErrorCode
	}
	// Any failure that didn't come back as a structured Postgres error is
	// treated as a connection-level failure and retried.
	return true
}

// ScanFirstValue scans the first value of the first row of rows into dest,
// leaving dest untouched if rows is empty.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
