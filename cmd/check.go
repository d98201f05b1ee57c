// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reshapedb/reshape/pkg/migrations"
)

// checkCmd builds `check`: it runs every action's pre-flight SQL
// validation over a migration file without touching the database (spec
// §6, §7: "validation... surfaces (field, sql, parser-error) tuples
// without side effects").
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "check <file>",
		Short:     "Validate the SQL snippets in a migration file",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"file"},
		RunE:      runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	filename := args[0]

	mig, err := migrations.ReadMigration(os.DirFS(filepath.Dir(filename)), filepath.Base(filename))
	if err != nil {
		return fmt.Errorf("reading migration file %q: %w", filename, err)
	}

	checks := mig.ValidateSQL()
	var failed int
	for _, c := range checks {
		if c.Err == nil {
			continue
		}
		failed++
		fmt.Printf("%s: %s\n  %s\n", c.Field, c.Err, c.SQL)
	}

	if failed > 0 {
		return fmt.Errorf("%d invalid SQL snippet(s) in %q", failed, filename)
	}

	fmt.Printf("%q: all SQL snippets are valid\n", filename)
	return nil
}
