// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// removeCmd builds `migration remove`: the destructive teardown of every
// trace of reshape from the database (spec §4.7 "remove", Open Question
// (b)). Intended for dev/test use only, so it's gated behind an explicit
// --yes flag rather than an interactive prompt the CLI's non-interactive
// callers (CI, scripts) could never satisfy.
func removeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "remove",
		Short: "Destructively remove all reshape-managed tables, views and state",
		Args:  cobra.NoArgs,
		RunE:  runRemove,
	}
	c.Flags().Bool("yes", false, "Confirm the destructive removal")
	return c
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	confirmed, _ := cmd.Flags().GetBool("yes")
	if !confirmed {
		return fmt.Errorf("refusing to remove without --yes: this drops every public table, enum and reshape's own state")
	}

	c, conn, err := newCoordinator(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sp, _ := pterm.DefaultSpinner.WithText("Removing reshape and all managed tables...").Start()
	if err := c.Remove(ctx); err != nil {
		sp.Fail(fmt.Sprintf("Failed to remove: %s", err))
		return err
	}

	sp.Success("Removed reshape's state and every managed table")
	return nil
}
