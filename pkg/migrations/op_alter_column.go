// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// ColumnChange describes the parts of a column AlterColumn may change.
// Name-only is a pure rename, handled as a short-circuit with no
// physical work until complete (spec §4.4.3).
type ColumnChange struct {
	Name     *string `json:"name,omitempty"`
	Type     *string `json:"type,omitempty"`
	Nullable *bool   `json:"nullable,omitempty"`
	Default  *string `json:"default,omitempty"`
}

// isRenameOnly reports whether c changes only the column's logical name.
func (c ColumnChange) isRenameOnly() bool {
	return c.Name != nil && c.Type == nil && c.Nullable == nil && c.Default == nil
}

// AlterColumn changes a column's type, nullability, default, or name.
// A pure rename is deferred entirely; any other change goes through a
// temporary column with paired up/down triggers so both schemas keep
// working during the dual-schema window (spec §4.4.3).
type AlterColumn struct {
	Type Type `json:"type"`

	Table   string       `json:"table"`
	Column  string       `json:"column"`
	Changes ColumnChange `json:"changes"`
	Up      *string      `json:"up,omitempty"`
	Down    *string      `json:"down,omitempty"`
}

var _ Action = (*AlterColumn)(nil)

func (o *AlterColumn) Describe() string {
	return fmt.Sprintf("alter column %q on %q", o.Column, o.Table)
}

func (o *AlterColumn) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	if o.Changes.isRenameOnly() {
		return nil
	}

	table := virt.PhysicalTable(o.Table)
	real := virt.PhysicalColumn(o.Table, o.Column)
	temp := newColumnName(mctx, o.Column)

	colType := ""
	if o.Changes.Type != nil {
		colType = *o.Changes.Type
	} else {
		existingType, err := currentColumnType(ctx, conn, virt, o.Table, o.Column)
		if err != nil {
			return err
		}
		colType = existingType
	}

	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(temp), colType)
	if o.Changes.Default != nil {
		sql += fmt.Sprintf(" DEFAULT %s", *o.Changes.Default)
	}
	if err := conn.Run(ctx, sql); err != nil {
		return fmt.Errorf("adding column %q: %w", temp, err)
	}

	upExpr := real
	if o.Up != nil {
		upExpr = *o.Up
	}
	downExpr := temp
	if o.Down != nil {
		downExpr = *o.Down
	}

	bindings, err := columnBindings(ctx, conn, virt, o.Table)
	if err != nil {
		return err
	}

	if err := installTrigger(ctx, conn, TriggerConfig{
		Name:         alterUpTriggerName(mctx, o.Table, o.Column),
		TableName:    table,
		Columns:      bindings,
		Condition:    "NOT reshape.is_new_schema()",
		TargetColumn: temp,
		SQL:          upExpr,
	}); err != nil {
		return err
	}

	downBindings := map[string]string{}
	for k, v := range bindings {
		downBindings[k] = v
	}
	downBindings[o.Column] = temp
	if err := installTrigger(ctx, conn, TriggerConfig{
		Name:         alterDownTriggerName(mctx, o.Table, o.Column),
		TableName:    table,
		Columns:      downBindings,
		Condition:    "reshape.is_new_schema()",
		TargetColumn: real,
		SQL:          downExpr,
	}); err != nil {
		return err
	}

	if err := backfill.BatchTouchRows(ctx, conn, table, "", bf); err != nil {
		return fmt.Errorf("backfilling %q: %w", table, err)
	}

	if err := o.duplicateIndexes(ctx, mctx, conn, table, real, temp); err != nil {
		return err
	}

	if o.Changes.Nullable != nil && !*o.Changes.Nullable {
		constraint := notNullConstraintName(mctx, o.Table, o.Column)
		sql = fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IS NOT NULL) NOT VALID",
			schema.QuoteIdentifier(table), schema.QuoteIdentifier(constraint), schema.QuoteIdentifier(temp))
		if err := conn.Run(ctx, sql); err != nil {
			return fmt.Errorf("adding not-null check to %q: %w", temp, err)
		}
	}

	return nil
}

// currentColumnType returns column's live Postgres type, for when Run
// needs to create the temp column with an unchanged type (Postgres
// requires an explicit type in ADD COLUMN; there's no "LIKE" shortcut for
// a single column).
func currentColumnType(ctx context.Context, conn db.DB, virt *schema.Schema, table, column string) (string, error) {
	t, err := schema.GetTable(ctx, conn, virt, table)
	if err != nil {
		return "", fmt.Errorf("resolving type of %q.%q: %w", table, column, err)
	}
	if t == nil {
		return "", fmt.Errorf("table %q does not exist", table)
	}
	for _, c := range t.Columns {
		if c.Name == column {
			return c.DataType, nil
		}
	}
	return "", fmt.Errorf("column %q does not exist on %q", column, table)
}

// duplicateIndexes recreates, on the temp column, any index that
// currently covers realColumn, so both columns stay independently
// indexed until complete swaps them (spec §4.4.3).
func (o *AlterColumn) duplicateIndexes(ctx context.Context, mctx Context, conn db.DB, table, realColumn, tempColumn string) error {
	rows, err := conn.QueryWithParams(ctx, `
		SELECT i.indexrelid::regclass::text, i.indexrelid::oid::text, pg_get_indexdef(i.indexrelid)
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND a.attname = $2 AND NOT i.indisprimary
	`, table, realColumn)
	if err != nil {
		return fmt.Errorf("listing indexes on %q.%q: %w", table, realColumn, err)
	}
	defer rows.Close()

	type idx struct{ name, oid, def string }
	var indexes []idx
	for rows.Next() {
		var i idx
		if err := rows.Scan(&i.name, &i.oid, &i.def); err != nil {
			return err
		}
		indexes = append(indexes, i)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, i := range indexes {
		name := tempIndexName(mctx, i.oid)
		sql := fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s (%s)",
			schema.QuoteIdentifier(name), schema.QuoteIdentifier(table), schema.QuoteIdentifier(tempColumn))
		if err := conn.Run(ctx, sql); err != nil {
			return fmt.Errorf("duplicating index %q: %w", i.name, err)
		}
	}
	return nil
}

func (o *AlterColumn) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	table := o.Table
	column := o.Column

	if o.Changes.isRenameOnly() {
		return nil, conn.Run(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME COLUMN %s TO %s",
			schema.QuoteIdentifier(table), schema.QuoteIdentifier(column), schema.QuoteIdentifier(*o.Changes.Name)))
	}

	real := column
	temp := newColumnName(mctx, column)

	// DROP INDEX CONCURRENTLY cannot run inside a transaction block, so
	// the index swap runs on the bare connection before the rest of
	// complete (column drop/rename, trigger cleanup) opens its transaction.
	if err := o.swapIndexes(ctx, mctx, conn, table, real); err != nil {
		return nil, err
	}

	tx, err := conn.Transaction(ctx)
	if err != nil {
		return nil, err
	}

	if o.Changes.Nullable != nil && !*o.Changes.Nullable {
		constraint := notNullConstraintName(mctx, o.Table, o.Column)
		stmts := []string{
			fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s", schema.QuoteIdentifier(table), schema.QuoteIdentifier(constraint)),
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", schema.QuoteIdentifier(table), schema.QuoteIdentifier(temp)),
			fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", schema.QuoteIdentifier(table), schema.QuoteIdentifier(constraint)),
		}
		for _, s := range stmts {
			if err := tx.Run(ctx, s); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	swapStmts := []string{
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s CASCADE", schema.QuoteIdentifier(table), schema.QuoteIdentifier(real)),
		fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", schema.QuoteIdentifier(table), schema.QuoteIdentifier(temp), schema.QuoteIdentifier(real)),
	}
	for _, s := range swapStmts {
		if err := tx.Run(ctx, s); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := dropTrigger(ctx, tx, alterUpTriggerName(mctx, o.Table, o.Column), table); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := dropTrigger(ctx, tx, alterDownTriggerName(mctx, o.Table, o.Column), table); err != nil {
		tx.Rollback()
		return nil, err
	}

	return tx, nil
}

// swapIndexes finishes the index duplication started in Run: every index
// still covering realColumn is renamed aside and concurrently dropped,
// while its duplicate on the temp column (found by the oid embedded in
// its name) takes over the original index's name (spec §4.4.3, §9).
func (o *AlterColumn) swapIndexes(ctx context.Context, mctx Context, conn db.DB, table, realColumn string) error {
	rows, err := conn.QueryWithParams(ctx, `
		SELECT i.indexrelid::regclass::text, i.indexrelid::oid::text
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND a.attname = $2 AND NOT i.indisprimary
	`, table, realColumn)
	if err != nil {
		return fmt.Errorf("listing indexes on %q.%q: %w", table, realColumn, err)
	}

	type idx struct{ name, oid string }
	var indexes []idx
	for rows.Next() {
		var i idx
		if err := rows.Scan(&i.name, &i.oid); err != nil {
			rows.Close()
			return err
		}
		indexes = append(indexes, i)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, i := range indexes {
		aside := oldIndexName(mctx, i.name)
		tempName := tempIndexName(mctx, i.oid)

		if err := conn.Run(ctx, fmt.Sprintf("ALTER INDEX %s RENAME TO %s", schema.QuoteIdentifier(i.name), schema.QuoteIdentifier(aside))); err != nil {
			return fmt.Errorf("renaming index %q aside: %w", i.name, err)
		}
		if err := conn.Run(ctx, fmt.Sprintf("ALTER INDEX %s RENAME TO %s", schema.QuoteIdentifier(tempName), schema.QuoteIdentifier(i.name))); err != nil {
			return fmt.Errorf("promoting duplicated index %q: %w", tempName, err)
		}
		if err := conn.Run(ctx, fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s", schema.QuoteIdentifier(aside))); err != nil {
			return fmt.Errorf("dropping superseded index %q: %w", aside, err)
		}
	}
	return nil
}

func (o *AlterColumn) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	if o.Changes.isRenameOnly() {
		return nil
	}

	table := o.Table
	temp := newColumnName(mctx, o.Column)

	rows, err := conn.QueryWithParams(ctx, `
		SELECT indexrelid::oid::text FROM pg_index WHERE indrelid = $1::regclass
	`, table)
	if err == nil {
		var oids []string
		for rows.Next() {
			var oid string
			if rows.Scan(&oid) == nil {
				oids = append(oids, oid)
			}
		}
		rows.Close()
		for _, oid := range oids {
			name := tempIndexName(mctx, oid)
			if err := conn.Run(ctx, fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s", schema.QuoteIdentifier(name))); err != nil {
				return err
			}
		}
	}

	if err := dropTrigger(ctx, conn, alterUpTriggerName(mctx, o.Table, o.Column), table); err != nil {
		return err
	}
	if err := dropTrigger(ctx, conn, alterDownTriggerName(mctx, o.Table, o.Column), table); err != nil {
		return err
	}

	return conn.Run(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP COLUMN IF EXISTS %s",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(temp)))
}

func (o *AlterColumn) UpdateSchema(mctx Context, virt *schema.Schema) {
	virt.ChangeTable(o.Table, func(t *schema.TableChanges) {
		t.ChangeColumn(o.Column, func(c *schema.ColumnChanges) {
			if o.Changes.isRenameOnly() {
				c.SetName(*o.Changes.Name)
				return
			}
			c.SetColumn(newColumnName(mctx, o.Column))
			if o.Changes.Name != nil {
				c.SetName(*o.Changes.Name)
			}
		})
	})
}

func (o *AlterColumn) ValidateSQL() []SQLCheck {
	var checks []SQLCheck
	if o.Up != nil {
		checks = append(checks, checkSQL("up", *o.Up))
	}
	if o.Down != nil {
		checks = append(checks, checkSQL("down", *o.Down))
	}
	return checks
}
