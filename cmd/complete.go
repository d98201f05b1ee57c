// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// completeCmd builds `migration complete`.
func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Complete the in-progress migration, collapsing the dual-schema window",
		Args:  cobra.NoArgs,
		RunE:  runComplete,
	}
}

// legacyCompleteCmd is the legacy top-level alias for `migration complete`.
func legacyCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Complete the in-progress migration (alias for migration complete)",
		Args:  cobra.NoArgs,
		RunE:  runComplete,
	}
}

func runComplete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, conn, err := newCoordinator(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sp, _ := pterm.DefaultSpinner.WithText("Completing migration...").Start()
	if err := c.Complete(ctx); err != nil {
		sp.Fail(fmt.Sprintf("Failed to complete migration: %s", err))
		return err
	}

	sp.Success("Migration completed")
	return nil
}
