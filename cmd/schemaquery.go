// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reshapedb/reshape/pkg/coordinator"
	"github.com/reshapedb/reshape/pkg/state"
)

// schemaQueryCmd builds `schema-query`: it prints the SET search_path
// statement an application uses to pin itself to the last completed or
// in-progress migration's namespace (spec §6's "application contract").
func schemaQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema-query",
		Short: "Print the SET search_path statement for the last migration",
		Args:  cobra.NoArgs,
		RunE:  runSchemaQuery,
	}
}

func runSchemaQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	_, conn, err := newCoordinator(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	store := state.New(conn)
	st, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading migration state: %w", err)
	}

	target := st.TargetMigration()
	if target == nil {
		name, err := store.CurrentMigration(ctx)
		if err != nil {
			return fmt.Errorf("reading current migration: %w", err)
		}
		if name == "" {
			return fmt.Errorf("no migration has been applied yet")
		}
		fmt.Println(SearchPathStatement(name))
		return nil
	}

	fmt.Println(SearchPathStatement(target.Name))
	return nil
}

// SearchPathStatement returns the statement an application runs to bind
// itself to migrationName's namespace.
func SearchPathStatement(migrationName string) string {
	return fmt.Sprintf("SET search_path TO %s", coordinator.NamespaceName(migrationName))
}
