// SPDX-License-Identifier: Apache-2.0

// Package schema implements the virtual schema model (component C): an
// in-memory record of the logical renames, column replacements and
// removals an in-flight migration makes, plus introspection of the live
// Postgres catalog overlaid with those changes.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/reshapedb/reshape/pkg/db"
)

// ReservedPrefix marks physical identifiers reserved for reshape's own
// use (temporary columns, triggers, constraints). Any live physical
// column carrying it is hidden from a generated view unless it is the
// current backing column of a tracked logical column.
const ReservedPrefix = "__reshape_"

// Schema is the set of logical changes an in-flight migration makes to
// the physical database. A freshly-created Schema describes no changes
// at all, so introspection of an untouched table falls through
// unchanged to the live catalog.
type Schema struct {
	Tables []*TableChanges
}

// New returns an empty virtual schema.
func New() *Schema {
	return &Schema{}
}

// TableChanges tracks the logical changes made to one table.
type TableChanges struct {
	// CurrentName is the table's logical (virtual) name as of the last
	// change applied to it.
	CurrentName string
	// RealName is the table's physical name in Postgres. It never
	// changes once the TableChanges record is created: RenameTable only
	// changes CurrentName, and the physical RENAME happens at complete.
	RealName string

	ColumnChanges []*ColumnChanges
	Removed       bool
}

// ColumnChanges tracks the logical changes made to one column.
type ColumnChanges struct {
	// CurrentName is the column's logical (virtual) name.
	CurrentName string
	// BackingColumns is a nonempty stack of physical column names that
	// have backed this logical column over the life of the migration.
	// The last element is the physical column exposed to the new
	// schema; earlier entries are obsolete and hidden from both
	// schemas.
	BackingColumns []string
	Removed        bool
}

// LastBackingColumn returns the physical column currently backing this
// logical column.
func (c *ColumnChanges) LastBackingColumn() string {
	return c.BackingColumns[len(c.BackingColumns)-1]
}

// ChangeTable finds the TableChanges for the table currently known by
// name, creating one if this is the first change made to the table
// this migration, and passes it to f.
func (s *Schema) ChangeTable(name string, f func(*TableChanges)) {
	f(s.findOrCreateTable(name))
}

func (s *Schema) findOrCreateTable(name string) *TableChanges {
	for _, t := range s.Tables {
		if t.CurrentName == name {
			return t
		}
	}
	t := &TableChanges{CurrentName: name, RealName: name}
	s.Tables = append(s.Tables, t)
	return t
}

// ChangeColumn finds the ColumnChanges for the column currently known by
// name on t, creating one if this is the first change made to the
// column, and passes it to f.
func (t *TableChanges) ChangeColumn(name string, f func(*ColumnChanges)) {
	f(t.findOrCreateColumn(name))
}

func (t *TableChanges) findOrCreateColumn(name string) *ColumnChanges {
	for _, c := range t.ColumnChanges {
		if c.CurrentName == name {
			return c
		}
	}
	c := &ColumnChanges{CurrentName: name, BackingColumns: []string{name}}
	t.ColumnChanges = append(t.ColumnChanges, c)
	return c
}

// SetName renames the table in the virtual schema. The physical rename
// happens only when the migration completes.
func (t *TableChanges) SetName(name string) { t.CurrentName = name }

func (t *TableChanges) SetRemoved(removed bool) { t.Removed = removed }

func (c *ColumnChanges) SetName(name string) { c.CurrentName = name }

func (c *ColumnChanges) SetRemoved(removed bool) { c.Removed = removed }

// SetColumn pushes a new physical backing column onto the stack.
func (c *ColumnChanges) SetColumn(physicalName string) {
	c.BackingColumns = append(c.BackingColumns, physicalName)
}

// PhysicalTable resolves a logical table name to its physical name,
// falling back to the name unchanged if the virtual schema has recorded
// no changes to it.
func (s *Schema) PhysicalTable(logicalName string) string {
	for _, t := range s.Tables {
		if t.CurrentName == logicalName {
			return t.RealName
		}
	}
	return logicalName
}

// PhysicalColumn resolves a logical table+column pair to the column's
// current physical (backing) name.
func (s *Schema) PhysicalColumn(logicalTable, logicalColumn string) string {
	if t := s.tableChangesFor(logicalTable); t != nil {
		for _, c := range t.ColumnChanges {
			if c.CurrentName == logicalColumn {
				return c.LastBackingColumn()
			}
		}
	}
	return logicalColumn
}

// tableChangesFor returns the TableChanges tracked for logicalName, or
// nil if the table is untouched by the in-flight migration.
func (s *Schema) tableChangesFor(logicalName string) *TableChanges {
	for _, t := range s.Tables {
		if t.CurrentName == logicalName {
			return t
		}
	}
	return nil
}

// Column describes one exposed column of a live logical table.
type Column struct {
	Name     string
	RealName string
	DataType string
	Nullable bool
	Default  *string
}

// Table describes a live logical table as it should appear through the
// new schema's views.
type Table struct {
	Name     string
	RealName string
	Columns  []Column
}

// GetTables returns every live (non-removed) logical table known to
// public, overlaying the virtual schema's renames onto the live
// catalog.
func GetTables(ctx context.Context, conn db.DB, virt *Schema) ([]Table, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
	`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var realNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		realNames = append(realNames, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	removedReal := map[string]bool{}
	renamedReal := map[string]string{}
	for _, t := range virt.Tables {
		if t.Removed {
			removedReal[t.RealName] = true
		} else {
			renamedReal[t.RealName] = t.CurrentName
		}
	}

	var tables []Table
	for _, realName := range realNames {
		if removedReal[realName] {
			continue
		}
		logicalName := realName
		if name, ok := renamedReal[realName]; ok {
			logicalName = name
		}
		table, err := getTableByRealName(ctx, conn, virt, logicalName, realName)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *table)
	}
	return tables, nil
}

// GetTable returns a single live logical table by its current logical
// name, or nil if it doesn't exist (or has been removed).
func GetTable(ctx context.Context, conn db.DB, virt *Schema, logicalName string) (*Table, error) {
	if tc := virt.tableChangesFor(logicalName); tc != nil && tc.Removed {
		return nil, nil
	}
	realName := virt.PhysicalTable(logicalName)
	return getTableByRealName(ctx, conn, virt, logicalName, realName)
}

func getTableByRealName(ctx context.Context, conn db.DB, virt *Schema, logicalName, realName string) (*Table, error) {
	rows, err := conn.QueryWithParams(ctx, `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`, realName)
	if err != nil {
		return nil, fmt.Errorf("introspecting columns of %q: %w", realName, err)
	}
	defer rows.Close()

	tc := virt.tableChangesFor(logicalName)

	// ignoreColumns holds every physical column that must not appear in
	// the generated view: historical backing columns and the physical
	// columns of removed logical columns.
	ignoreColumns := map[string]bool{}
	// aliases maps a live physical column to the logical name it should
	// be exposed as.
	aliases := map[string]string{}
	if tc != nil {
		for _, cc := range tc.ColumnChanges {
			for _, physical := range cc.BackingColumns[:len(cc.BackingColumns)-1] {
				ignoreColumns[physical] = true
			}
			last := cc.LastBackingColumn()
			if cc.Removed {
				ignoreColumns[last] = true
			} else {
				aliases[last] = cc.CurrentName
			}
		}
	}

	var columns []Column
	for rows.Next() {
		var name, dataType, isNullable string
		var def *string
		if err := rows.Scan(&name, &dataType, &isNullable, &def); err != nil {
			return nil, err
		}

		if ignoreColumns[name] {
			continue
		}
		if strings.HasPrefix(name, ReservedPrefix) {
			if _, aliased := aliases[name]; !aliased {
				continue
			}
		}

		logicalColumnName := name
		if alias, ok := aliases[name]; ok {
			logicalColumnName = alias
		}

		columns = append(columns, Column{
			Name:     logicalColumnName,
			RealName: name,
			DataType: dataType,
			Nullable: isNullable == "YES",
			Default:  def,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Table{Name: logicalName, RealName: realName, Columns: columns}, nil
}

// QuoteIdentifier quotes name as a Postgres identifier. Re-exported so
// callers outside pkg/db don't need a second import of lib/pq.
func QuoteIdentifier(name string) string { return pq.QuoteIdentifier(name) }

// QuoteLiteral quotes value as a Postgres string literal.
func QuoteLiteral(value string) string { return pq.QuoteLiteral(value) }
