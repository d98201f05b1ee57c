// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// columnDefSQL renders one CreateTable/AddColumn column definition:
// "name" TYPE [DEFAULT expr] [NOT NULL] [GENERATED expr] (spec §4.4.1).
func columnDefSQL(c Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", schema.QuoteIdentifier(c.Name), c.Type)
	if c.Default != nil {
		fmt.Fprintf(&b, " DEFAULT %s", *c.Default)
	}
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Generated != nil {
		fmt.Fprintf(&b, " GENERATED ALWAYS AS (%s) STORED", *c.Generated)
	}
	return b.String()
}

// foreignKeySQL renders a table-level FOREIGN KEY clause, resolving both
// sides through the virtual schema so a migration can reference a table
// or column that a prior action in the same migration has already
// logically renamed.
func foreignKeySQL(virt *schema.Schema, fk ForeignKey) string {
	cols := make([]string, len(fk.Columns))
	for i, c := range fk.Columns {
		cols[i] = schema.QuoteIdentifier(c)
	}
	refTable := virt.PhysicalTable(fk.ReferencedTable)
	refCols := make([]string, len(fk.ReferencedColumns))
	for i, c := range fk.ReferencedColumns {
		refCols[i] = schema.QuoteIdentifier(virt.PhysicalColumn(fk.ReferencedTable, c))
	}

	sql := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
		strings.Join(cols, ", "), schema.QuoteIdentifier(refTable), strings.Join(refCols, ", "))
	if fk.OnDelete != "" {
		sql += " ON DELETE " + fk.OnDelete
	}
	return sql
}

// columnBindings returns the logical->physical column name map of
// table's live columns, for use as a trigger function's DECLARE
// bindings (spec §9).
func columnBindings(ctx context.Context, conn db.DB, virt *schema.Schema, table string) (map[string]string, error) {
	t, err := schema.GetTable(ctx, conn, virt, table)
	if err != nil {
		return nil, fmt.Errorf("resolving columns of %q: %w", table, err)
	}
	if t == nil {
		return nil, fmt.Errorf("table %q does not exist", table)
	}
	bindings := make(map[string]string, len(t.Columns))
	for _, c := range t.Columns {
		bindings[c.Name] = c.RealName
	}
	return bindings, nil
}

// indexesOnColumn returns the names of every non-primary-key index
// covering column on table.
func indexesOnColumn(ctx context.Context, conn db.DB, table, column string) ([]string, error) {
	rows, err := conn.QueryWithParams(ctx, `
		SELECT i.indexrelid::regclass::text
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND a.attname = $2 AND NOT i.indisprimary
	`, table, column)
	if err != nil {
		return nil, fmt.Errorf("listing indexes on %q.%q: %w", table, column, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// indexSQL renders a CREATE INDEX statement for idx on table.
func indexSQL(table string, idx Index, concurrently bool, overrideColumn, replaceColumn, name string) string {
	cols := make([]string, len(idx.Columns))
	copy(cols, idx.Columns)
	if overrideColumn != "" {
		for i, c := range cols {
			if c == replaceColumn {
				cols[i] = overrideColumn
			}
		}
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = schema.QuoteIdentifier(c)
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if concurrently {
		b.WriteString("CONCURRENTLY ")
	}
	fmt.Fprintf(&b, "IF NOT EXISTS %s ON %s ", schema.QuoteIdentifier(name), schema.QuoteIdentifier(table))
	if idx.Type != "" {
		fmt.Fprintf(&b, "USING %s ", idx.Type)
	}
	fmt.Fprintf(&b, "(%s)", strings.Join(quoted, ", "))
	return b.String()
}
