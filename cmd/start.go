// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"math"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/reshapedb/reshape/cmd/flags"
	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/coordinator"
	"github.com/reshapedb/reshape/pkg/migrations"
)

// startCmd builds `migration start`.
func startCmd() *cobra.Command {
	return startFlags(&cobra.Command{
		Use:       "start <directory>",
		Short:     "Apply the outstanding migrations in a directory",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"directory"},
		RunE:      runStart,
	})
}

// migrateCmd is the legacy top-level alias for `migration start`.
func migrateCmd() *cobra.Command {
	return startFlags(&cobra.Command{
		Use:       "migrate <directory>",
		Short:     "Apply the outstanding migrations in a directory (alias for migration start)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"directory"},
		RunE:      runStart,
	})
}

func startFlags(c *cobra.Command) *cobra.Command {
	c.Flags().BoolP("complete", "c", false, "Also complete the final migration, collapsing the dual-schema window")
	c.Flags().Int("backfill-batch-size", backfill.DefaultBatchSize, "Number of rows backfilled per batch")
	c.Flags().Duration("backfill-batch-delay", backfill.DefaultDelay, "Delay between backfill batches (e.g. 100ms, 1s)")
	return c
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := args[0]

	complete, _ := cmd.Flags().GetBool("complete")
	batchSize, _ := cmd.Flags().GetInt("backfill-batch-size")
	batchDelay, _ := cmd.Flags().GetDuration("backfill-batch-delay")

	c, conn, err := newCoordinator(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	desired, err := loadMigrations(dir)
	if err != nil {
		return err
	}
	if len(desired) == 0 {
		fmt.Println("no migration files found; nothing to do")
		return nil
	}

	if !flags.SkipValidation() {
		for _, mig := range desired {
			for _, check := range mig.ValidateSQL() {
				if check.Err != nil {
					return fmt.Errorf("migration %q: invalid SQL in %s: %w", mig.Name, check.Field, check.Err)
				}
			}
		}
	}

	sp, _ := pterm.DefaultSpinner.WithText("Applying migrations...").Start()
	bf := backfill.NewConfig(
		backfill.WithBatchSize(batchSize),
		backfill.WithBatchDelay(batchDelay),
	)
	bf.AddCallback(func(n, total int64) {
		if total <= 0 {
			sp.UpdateText(fmt.Sprintf("%d rows backfilled...", n))
			return
		}
		percent := math.Min(float64(n)/float64(total)*100, 100)
		sp.UpdateText(fmt.Sprintf("%d rows backfilled... (%.1f%%)", n, percent))
	})

	if err := c.Migrate(ctx, desired, bf); err != nil {
		sp.Fail(fmt.Sprintf("Failed to apply migrations: %s", err))
		return err
	}

	target := desired[len(desired)-1]
	if complete {
		if err := c.Complete(ctx); err != nil {
			sp.Fail(fmt.Sprintf("Applied but failed to complete: %s", err))
			return err
		}
		sp.Success(fmt.Sprintf("Migration %q applied and completed", target.Name))
		return nil
	}

	ns := coordinator.NamespaceName(target.Name)
	sp.Success(fmt.Sprintf("Migration %q applied; new schema available under %q", target.Name, ns))
	return nil
}

// loadMigrations reads every migration file in dir, in natural filename
// order, as a []*migrations.Migration ready to pass to Coordinator.Migrate.
func loadMigrations(dir string) ([]*migrations.Migration, error) {
	fsys := os.DirFS(dir)

	files, err := migrations.CollectFilesFromDir(fsys)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %q: %w", dir, err)
	}

	out := make([]*migrations.Migration, 0, len(files))
	for _, f := range files {
		mig, err := migrations.ReadMigration(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("reading migration file %q: %w", f, err)
		}
		out = append(out, mig)
	}
	return out, nil
}
