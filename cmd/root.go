// SPDX-License-Identifier: Apache-2.0

// Package cmd is the CLI's thin adapter onto the coordinator (spec §6):
// it parses flags and migration files and calls straight into
// pkg/coordinator, pkg/db and pkg/state.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reshapedb/reshape/cmd/flags"
	"github.com/reshapedb/reshape/pkg/coordinator"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/state"
)

// Version is set at build time via -ldflags.
var Version = "development"

func init() {
	viper.AutomaticEnv()

	flags.ConnectionFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "reshape",
	Short:        "Zero-downtime Postgres schema migrations",
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the CLI.
func Execute() error {
	migrationCmd := &cobra.Command{
		Use:   "migration",
		Short: "Apply, complete or abort migrations",
	}
	migrationCmd.AddCommand(startCmd())
	migrationCmd.AddCommand(completeCmd())
	migrationCmd.AddCommand(abortCmd())
	migrationCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(migrationCmd)

	// Legacy top-level aliases for the migration subcommands.
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(legacyCompleteCmd())
	rootCmd.AddCommand(legacyAbortCmd())

	rootCmd.AddCommand(schemaQueryCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(docsCmd())

	return rootCmd.Execute()
}

// newCoordinator opens a connection using the bound connection flags,
// initializes the state store, and returns a ready Coordinator. The
// caller owns closing the returned *db.Conn.
func newCoordinator(ctx context.Context) (*coordinator.Coordinator, *db.Conn, error) {
	conn, err := db.Open(ctx, flags.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	store := state.New(conn)
	if err := store.Init(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("initializing state store: %w", err)
	}

	locker := db.NewLocker(conn)
	return coordinator.New(locker, store), conn, nil
}
