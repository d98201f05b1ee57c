// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reshapedb/reshape/docs"
)

// docsCmd builds `docs`: it prints the embedded reference documentation
// for migration actions (spec §6).
func docsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "Print documentation for migration actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(docs.Actions())
			return nil
		},
	}
}
