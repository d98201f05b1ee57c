// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// RemoveColumn keeps a removed column alive and coherent for old-schema
// readers until complete physically drops it (spec §4.4.4).
type RemoveColumn struct {
	Type Type `json:"type"`

	Table  string      `json:"table"`
	Column string      `json:"column"`
	Down   *Expression `json:"down,omitempty"`
}

var _ Action = (*RemoveColumn)(nil)

func (o *RemoveColumn) Describe() string {
	return fmt.Sprintf("remove column %q from %q", o.Column, o.Table)
}

func (o *RemoveColumn) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	if o.Down == nil {
		return nil
	}

	table := virt.PhysicalTable(o.Table)
	real := virt.PhysicalColumn(o.Table, o.Column)

	if o.Down.IsSimple() {
		bindings, err := columnBindings(ctx, conn, virt, o.Table)
		if err != nil {
			return err
		}
		return installTrigger(ctx, conn, TriggerConfig{
			Name:         removeColumnTriggerName(mctx, o.Table, o.Column),
			TableName:    table,
			Columns:      bindings,
			Condition:    "reshape.is_new_schema()",
			TargetColumn: real,
			SQL:          o.Down.SQL,
		})
	}

	return o.runCrossTableDown(ctx, mctx, conn, virt, table, real)
}

// runCrossTableDown re-derives the column's value from a different table
// on every write, after first replacing any NOT NULL with a constraint
// trigger that keeps enforcing it for old-schema writes (spec §4.4.4).
func (o *RemoveColumn) runCrossTableDown(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, table, real string) error {
	col, err := schema.GetTable(ctx, conn, virt, o.Table)
	if err != nil {
		return err
	}
	wasNotNull := false
	if col != nil {
		for _, c := range col.Columns {
			if c.Name == o.Column && !c.Nullable {
				wasNotNull = true
			}
		}
	}

	if wasNotNull {
		bindings, err := columnBindings(ctx, conn, virt, o.Table)
		if err != nil {
			return err
		}
		if err := installConstraintTrigger(ctx, conn, TriggerConfig{
			Name:         removeColumnConstraintTriggerName(mctx, o.Table, o.Column),
			TableName:    table,
			Columns:      bindings,
			Condition:    "reshape.is_new_schema()",
			TargetColumn: real,
		}); err != nil {
			return err
		}
		if err := conn.Run(ctx, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL",
			schema.QuoteIdentifier(table), schema.QuoteIdentifier(real))); err != nil {
			return fmt.Errorf("dropping not null on %q: %w", real, err)
		}
	}

	from := virt.PhysicalTable(o.Down.From.Table)
	fromBindings, err := columnBindings(ctx, conn, virt, o.Down.From.Table)
	if err != nil {
		return err
	}
	forwardSQL := fmt.Sprintf(
		"PERFORM set_config('reshape.disable_triggers', 'TRUE', true); UPDATE %s SET %s = %s WHERE %s; PERFORM set_config('reshape.disable_triggers', '', true)",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(real), o.Down.From.Value, o.Down.From.Where)
	if err := installStatementTrigger(ctx, conn, TriggerConfig{
		Name:      removeColumnTriggerName(mctx, o.Table, o.Column),
		TableName: from,
		Columns:   fromBindings,
		Condition: "reshape.is_new_schema()",
		SQL:       forwardSQL,
	}); err != nil {
		return err
	}

	toBindings, err := columnBindings(ctx, conn, virt, o.Table)
	if err != nil {
		return err
	}
	reverseSQL := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(real), o.Down.From.Value, o.Down.From.Where)
	return installStatementTrigger(ctx, conn, TriggerConfig{
		Name:      removeColumnReverseTriggerName(mctx, o.Table, o.Column),
		TableName: table,
		Columns:   toBindings,
		Condition: "reshape.is_new_schema() AND current_setting('reshape.disable_triggers', true) IS DISTINCT FROM 'TRUE'",
		SQL:       reverseSQL,
	})
}

func (o *RemoveColumn) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	table := o.Table
	column := o.Column

	indexNames, err := indexesOnColumn(ctx, conn, table, column)
	if err != nil {
		return nil, err
	}
	for _, name := range indexNames {
		if err := conn.Run(ctx, fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s", schema.QuoteIdentifier(name))); err != nil {
			return nil, err
		}
	}

	if err := conn.Run(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP COLUMN IF EXISTS %s",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(column))); err != nil {
		return nil, err
	}

	if o.Down != nil {
		if err := dropTrigger(ctx, conn, removeColumnTriggerName(mctx, o.Table, o.Column), table); err != nil {
			return nil, err
		}
		if !o.Down.IsSimple() {
			if err := dropTrigger(ctx, conn, removeColumnTriggerName(mctx, o.Table, o.Column), o.Down.From.Table); err != nil {
				return nil, err
			}
			if err := dropTrigger(ctx, conn, removeColumnReverseTriggerName(mctx, o.Table, o.Column), table); err != nil {
				return nil, err
			}
			if err := conn.Run(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s CASCADE",
				schema.QuoteIdentifier(removeColumnConstraintTriggerName(mctx, o.Table, o.Column)), schema.QuoteIdentifier(table))); err != nil {
				return nil, err
			}
			if err := conn.Run(ctx, fmt.Sprintf("DROP FUNCTION IF EXISTS %s() CASCADE",
				schema.QuoteIdentifier(removeColumnConstraintTriggerName(mctx, o.Table, o.Column)))); err != nil {
				return nil, err
			}
		}
	}

	return nil, nil
}

func (o *RemoveColumn) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	table := o.Table
	real := o.Column

	if o.Down != nil {
		if err := dropTrigger(ctx, conn, removeColumnTriggerName(mctx, o.Table, o.Column), table); err != nil {
			return err
		}
		if !o.Down.IsSimple() {
			if err := dropTrigger(ctx, conn, removeColumnTriggerName(mctx, o.Table, o.Column), o.Down.From.Table); err != nil {
				return err
			}
			if err := dropTrigger(ctx, conn, removeColumnReverseTriggerName(mctx, o.Table, o.Column), table); err != nil {
				return err
			}

			constraintTrigger := removeColumnConstraintTriggerName(mctx, o.Table, o.Column)
			if err := conn.Run(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s",
				schema.QuoteIdentifier(constraintTrigger), schema.QuoteIdentifier(table))); err != nil {
				return err
			}
			if err := conn.Run(ctx, fmt.Sprintf("DROP FUNCTION IF EXISTS %s()", schema.QuoteIdentifier(constraintTrigger))); err != nil {
				return err
			}

			constraint := notNullConstraintName(mctx, o.Table, o.Column)
			stmts := []string{
				fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IS NOT NULL) NOT VALID",
					schema.QuoteIdentifier(table), schema.QuoteIdentifier(constraint), schema.QuoteIdentifier(real)),
				fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s", schema.QuoteIdentifier(table), schema.QuoteIdentifier(constraint)),
				fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", schema.QuoteIdentifier(table), schema.QuoteIdentifier(real)),
				fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", schema.QuoteIdentifier(table), schema.QuoteIdentifier(constraint)),
			}
			for _, s := range stmts {
				if err := conn.Run(ctx, s); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (o *RemoveColumn) UpdateSchema(mctx Context, virt *schema.Schema) {
	virt.ChangeTable(o.Table, func(t *schema.TableChanges) {
		t.ChangeColumn(o.Column, func(c *schema.ColumnChanges) {
			c.SetRemoved(true)
		})
	})
}

func (o *RemoveColumn) ValidateSQL() []SQLCheck {
	if o.Down == nil {
		return nil
	}
	if o.Down.IsSimple() {
		return []SQLCheck{checkSQL("down", o.Down.SQL)}
	}
	var checks []SQLCheck
	checks = append(checks, checkSQL("down.value", o.Down.From.Value))
	if o.Down.From.Where != "" {
		checks = append(checks, checkSQL("down.where", o.Down.From.Where))
	}
	return checks
}
