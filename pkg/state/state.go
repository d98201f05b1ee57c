// SPDX-License-Identifier: Apache-2.0

// Package state implements the state store (component B): the persisted
// migration-lifecycle state machine and the completed-migration log,
// backing the coordinator's crash recovery.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/migrations"
)

// Version is the current state-schema version, recorded informationally
// in reshape.data under the 'version' key.
const Version = "1"

const schemaName = "reshape"

const sqlInit = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.data (
	key   TEXT PRIMARY KEY,
	value JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS %[1]s.migrations (
	index        INT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT,
	actions      JSONB NOT NULL,
	completed_at TIMESTAMP NOT NULL DEFAULT NOW()
);
`

// dbExec is the subset of db.DB/db.TxDB the store needs: state must be
// saveable either through the bare connection or inside the transaction an
// action's Complete returns for the coordinator to commit (spec §4.7).
type dbExec interface {
	Run(ctx context.Context, sql string) error
	Query(ctx context.Context, sql string) (*sql.Rows, error)
	QueryWithParams(ctx context.Context, sql string, params ...any) (*sql.Rows, error)
}

// Store is the database-backed home of the migration-lifecycle state
// machine and the completed-migration log.
type Store struct {
	conn db.DB
}

// New returns a Store backed by conn. Init must be called once before use.
func New(conn db.DB) *Store {
	return &Store{conn: conn}
}

// Init creates the reshape schema and its tables if they don't already
// exist, and upserts the library version. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	if err := s.conn.Run(ctx, fmt.Sprintf(sqlInit, pq.QuoteIdentifier(schemaName))); err != nil {
		return fmt.Errorf("initializing reshape schema: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %[1]s.data (key, value) VALUES ('version', %[2]s::jsonb)
		ON CONFLICT (key) DO UPDATE SET value = %[2]s::jsonb
	`, pq.QuoteIdentifier(schemaName), pq.QuoteLiteral(fmt.Sprintf("%q", Version)))
	if err := s.conn.Run(ctx, stmt); err != nil {
		return fmt.Errorf("recording reshape version: %w", err)
	}
	return nil
}

// Load returns the persisted MigrationState, defaulting to Idle if no
// 'state' row exists yet.
func (s *Store) Load(ctx context.Context) (*MigrationState, error) {
	return load(ctx, s.conn)
}

func load(ctx context.Context, conn dbExec) (*MigrationState, error) {
	rows, err := conn.QueryWithParams(ctx, fmt.Sprintf(
		"SELECT value FROM %s.data WHERE key = 'state'", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	var raw []byte
	if err := db.ScanFirstValue(rows, &raw); err != nil {
		return nil, fmt.Errorf("scanning state: %w", err)
	}
	if raw == nil {
		return &MigrationState{Phase: PhaseIdle}, nil
	}

	var st MigrationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}
	return &st, nil
}

// Save persists st as the current 'state' row over the bare connection.
func (s *Store) Save(ctx context.Context, st *MigrationState) error {
	return save(ctx, s.conn, st)
}

// SaveTx persists st inside tx, letting the caller (an action's Complete,
// or the coordinator's final Completing->Idle transition) commit state
// advancement atomically with the DDL that produced it.
func (s *Store) SaveTx(ctx context.Context, tx db.TxDB, st *MigrationState) error {
	return save(ctx, tx, st)
}

func save(ctx context.Context, conn dbExec, st *MigrationState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %[1]s.data (key, value) VALUES ('state', %[2]s::jsonb)
		ON CONFLICT (key) DO UPDATE SET value = %[2]s::jsonb
	`, pq.QuoteIdentifier(schemaName), pq.QuoteLiteral(string(raw)))
	return conn.Run(ctx, stmt)
}

// Clear drops the reshape schema and everything in it, returning the
// database to its pre-reshape state. Used by the coordinator's destructive
// `remove` operation.
func (s *Store) Clear(ctx context.Context) error {
	return s.conn.Run(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(schemaName)))
}

// CurrentMigration returns the name of the most recently logged completed
// migration, or "" if none has completed yet.
func (s *Store) CurrentMigration(ctx context.Context) (string, error) {
	rows, err := s.conn.QueryWithParams(ctx, fmt.Sprintf(
		"SELECT name FROM %s.migrations ORDER BY index DESC LIMIT 1", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		return "", fmt.Errorf("reading current migration: %w", err)
	}

	var name string
	if err := db.ScanFirstValue(rows, &name); err != nil {
		return "", fmt.Errorf("scanning current migration: %w", err)
	}
	return name, nil
}

// ErrMigrationsDiverge is returned by RemainingMigrations when the logged
// history disagrees with the desired migration list.
var ErrMigrationsDiverge = fmt.Errorf("desired migrations diverge from the migrations already logged as completed")

// RemainingMigrations walks reshape.migrations in ascending index order,
// checking each logged name against the head of desired, and returns the
// suffix of desired that hasn't been logged yet. It fails if any logged
// name diverges from the corresponding desired name, or if more migrations
// are logged than are desired.
func (s *Store) RemainingMigrations(ctx context.Context, desired []*migrations.Migration) ([]*migrations.Migration, error) {
	rows, err := s.conn.QueryWithParams(ctx, fmt.Sprintf(
		"SELECT name FROM %s.migrations ORDER BY index ASC", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		return nil, fmt.Errorf("reading migration log: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var loggedName string
		if err := rows.Scan(&loggedName); err != nil {
			return nil, err
		}
		if i >= len(desired) || desired[i].Name != loggedName {
			return nil, fmt.Errorf("%w: logged migration %d is %q", ErrMigrationsDiverge, i, loggedName)
		}
		i++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return desired[i:], nil
}

// SaveMigrations appends one row per migration to reshape.migrations
// inside tx, marking them completed. Called once, atomically with the
// Completing->Idle transition.
func SaveMigrations(ctx context.Context, tx db.TxDB, ms []*migrations.Migration) error {
	for _, m := range ms {
		actions, err := json.Marshal(m.Actions)
		if err != nil {
			return fmt.Errorf("marshalling actions of migration %q: %w", m.Name, err)
		}

		stmt := fmt.Sprintf(
			"INSERT INTO %s.migrations (name, description, actions) VALUES (%s, %s, %s::jsonb)",
			pq.QuoteIdentifier(schemaName),
			pq.QuoteLiteral(m.Name),
			pq.QuoteLiteral(m.Description),
			pq.QuoteLiteral(string(actions)),
		)
		if err := tx.Run(ctx, stmt); err != nil {
			return fmt.Errorf("logging completed migration %q: %w", m.Name, err)
		}
	}
	return nil
}
