// SPDX-License-Identifier: Apache-2.0

// Package testutils provides a shared, process-wide Postgres test
// container so package tests across the module don't each pay container
// startup cost.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var sharedDSN string

// SharedTestMain starts a single Postgres container for an entire test
// binary and tears it down after all tests complete. Call from TestMain.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("reshape_test"),
		postgres.WithUsername("reshape"),
		postgres.WithPassword("reshape"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting postgres container: %s\n", err)
		os.Exit(1)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "building connection string: %s\n", err)
		os.Exit(1)
	}
	sharedDSN = dsn

	code := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "terminating postgres container: %s\n", err)
	}

	os.Exit(code)
}

// WithConnectionToContainer opens a fresh *sql.DB to the shared container,
// drops and recreates the public schema (and drops the reshape schema)
// first so each test starts from a clean slate, and closes the connection when f returns.
func WithConnectionToContainer(t *testing.T, f func(conn *sql.DB, connStr string)) {
	t.Helper()

	conn, err := sql.Open("postgres", sharedDSN)
	require.NoError(t, err)
	defer conn.Close()

	resetSchema(t, conn)

	f(conn, sharedDSN)
}

func resetSchema(t *testing.T, conn *sql.DB) {
	t.Helper()
	_, err := conn.Exec(`
		DROP SCHEMA IF EXISTS public CASCADE;
		CREATE SCHEMA public;
		DROP SCHEMA IF EXISTS reshape CASCADE;
	`)
	require.NoError(t, err)
}

// DSN returns the shared container's connection string.
func DSN() string {
	return sharedDSN
}
