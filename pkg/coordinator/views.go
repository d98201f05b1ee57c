// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// namespacePrefix names the per-migration schema of views applications
// bind to via search_path (spec §6: "migration_<migration_name>").
const namespacePrefix = "migration_"

// NamespaceName returns the per-migration namespace for migrationName.
// Exported so the CLI's schema-query command can print the SET
// search_path statement applications use to pin themselves to a version
// (spec §6's "application contract").
func NamespaceName(migrationName string) string {
	return namespacePrefix + migrationName
}

// createNamespace creates migration_<name> and, inside it, one view per
// live logical table known to virt, exposing each column under its
// current logical name (spec §4.7 step 6).
func createNamespace(ctx context.Context, conn db.DB, virt *schema.Schema, migrationName string) error {
	ns := NamespaceName(migrationName)

	if err := conn.Run(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema.QuoteIdentifier(ns))); err != nil {
		return fmt.Errorf("creating namespace %q: %w", ns, err)
	}

	tables, err := schema.GetTables(ctx, conn, virt)
	if err != nil {
		return fmt.Errorf("listing live tables: %w", err)
	}

	for _, t := range tables {
		if err := createTableView(ctx, conn, ns, t); err != nil {
			return err
		}
	}
	return nil
}

func createTableView(ctx context.Context, conn db.DB, namespace string, t schema.Table) error {
	if len(t.Columns) == 0 {
		return nil
	}

	selects := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		selects[i] = fmt.Sprintf("%s AS %s", schema.QuoteIdentifier(c.RealName), schema.QuoteIdentifier(c.Name))
	}

	sql := fmt.Sprintf("CREATE OR REPLACE VIEW %s.%s AS SELECT %s FROM %s",
		schema.QuoteIdentifier(namespace),
		schema.QuoteIdentifier(t.Name),
		strings.Join(selects, ", "),
		schema.QuoteIdentifier(t.RealName),
	)
	if err := conn.Run(ctx, sql); err != nil {
		return fmt.Errorf("creating view %q.%q: %w", namespace, t.Name, err)
	}
	return nil
}

// dropNamespace drops migration_<name> and every view it contains.
func dropNamespace(ctx context.Context, conn db.DB, migrationName string) error {
	ns := NamespaceName(migrationName)
	return conn.Run(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema.QuoteIdentifier(ns)))
}

// dropAllPublicTables drops every base table in public, used only by the
// destructive Remove operation.
func dropAllPublicTables(ctx context.Context, conn db.DB) error {
	rows, err := conn.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
	`)
	if err != nil {
		return fmt.Errorf("listing public tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		if err := conn.Run(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", schema.QuoteIdentifier(name))); err != nil {
			return fmt.Errorf("dropping table %q: %w", name, err)
		}
	}
	return nil
}

// dropAllEnums drops every enum type owned by public, used only by the
// destructive Remove operation.
func dropAllEnums(ctx context.Context, conn db.DB) error {
	rows, err := conn.Query(ctx, `
		SELECT t.typname
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = 'public'
		GROUP BY t.typname
	`)
	if err != nil {
		return fmt.Errorf("listing enum types: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		if err := conn.Run(ctx, fmt.Sprintf("DROP TYPE IF EXISTS %s CASCADE", schema.QuoteIdentifier(name))); err != nil {
			return fmt.Errorf("dropping enum %q: %w", name, err)
		}
	}
	return nil
}
