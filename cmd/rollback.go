// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// abortCmd builds `migration abort`.
func abortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort an applying or in-progress migration, restoring the prior schema",
		Args:  cobra.NoArgs,
		RunE:  runAbort,
	}
}

// legacyAbortCmd is the legacy top-level alias for `migration abort`.
func legacyAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort an applying or in-progress migration (alias for migration abort)",
		Args:  cobra.NoArgs,
		RunE:  runAbort,
	}
}

func runAbort(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, conn, err := newCoordinator(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sp, _ := pterm.DefaultSpinner.WithText("Aborting migration...").Start()
	if err := c.Abort(ctx); err != nil {
		sp.Fail(fmt.Sprintf("Failed to abort migration: %s", err))
		return err
	}

	sp.Success("Migration aborted. Changes since the last completed migration have been reverted")
	return nil
}
