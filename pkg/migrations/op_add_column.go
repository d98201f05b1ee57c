// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// AddColumn adds a column under a temporary physical name, backfilling
// and validating it before promoting it to its final name at complete
// (spec §4.4.2).
type AddColumn struct {
	Type Type `json:"type"`

	Table  string      `json:"table"`
	Column Column      `json:"column"`
	Up     *Expression `json:"up,omitempty"`
}

var _ Action = (*AddColumn)(nil)

func (o *AddColumn) Describe() string {
	return fmt.Sprintf("add column %q to %q", o.Column.Name, o.Table)
}

func (o *AddColumn) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	table := virt.PhysicalTable(o.Table)
	temp := tempColumnName(mctx, o.Table, o.Column.Name)

	col := o.Column
	col.Name = temp
	needsBackfillNotNull := !o.Column.Nullable
	if needsBackfillNotNull {
		// Added nullable first; NOT NULL is enforced after backfill via the
		// two-step check-constraint dance (spec §9).
		col.Nullable = true
	}

	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", schema.QuoteIdentifier(table), columnDefSQL(col))
	if err := conn.Run(ctx, sql); err != nil {
		return fmt.Errorf("adding column %q to %q: %w", temp, table, err)
	}

	if needsBackfillNotNull {
		constraint := notNullConstraintName(mctx, o.Table, o.Column.Name)
		sql = fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IS NOT NULL) NOT VALID",
			schema.QuoteIdentifier(table), schema.QuoteIdentifier(constraint), schema.QuoteIdentifier(temp))
		if err := conn.Run(ctx, sql); err != nil {
			return fmt.Errorf("adding not-null check to %q: %w", temp, err)
		}
	}

	if o.Up == nil {
		return nil
	}

	if o.Up.IsSimple() {
		bindings, err := columnBindings(ctx, conn, virt, o.Table)
		if err != nil {
			return err
		}
		if err := installTrigger(ctx, conn, TriggerConfig{
			Name:         addColumnTriggerName(mctx, o.Table, o.Column.Name),
			TableName:    table,
			Columns:      bindings,
			Condition:    "NOT reshape.is_new_schema()",
			TargetColumn: temp,
			SQL:          o.Up.SQL,
		}); err != nil {
			return err
		}
		if err := backfill.BatchTouchRows(ctx, conn, table, "", bf); err != nil {
			return fmt.Errorf("backfilling %q: %w", table, err)
		}
		return nil
	}

	return o.runCrossTableUp(ctx, mctx, conn, virt, table, temp, bf)
}

// runCrossTableUp installs the forward trigger on the source table
// (propagating its writes into this table's temp column) and the reverse
// trigger on this table (reading the source row back when this table is
// written directly), then backfills the source table (spec §4.4.2).
func (o *AddColumn) runCrossTableUp(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, table, temp string, bf *backfill.Config) error {
	from := virt.PhysicalTable(o.Up.From.Table)

	fromBindings, err := columnBindings(ctx, conn, virt, o.Up.From.Table)
	if err != nil {
		return err
	}
	forwardSQL := fmt.Sprintf(
		"PERFORM set_config('reshape.disable_triggers', 'TRUE', true); UPDATE %s SET %s = %s WHERE %s; PERFORM set_config('reshape.disable_triggers', '', true)",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(temp), o.Up.From.Value, o.Up.From.Where)
	if err := installStatementTrigger(ctx, conn, TriggerConfig{
		Name:      addColumnTriggerName(mctx, o.Table, o.Column.Name),
		TableName: from,
		Columns:   fromBindings,
		Condition: "NOT reshape.is_new_schema()",
		SQL:       forwardSQL,
	}); err != nil {
		return err
	}

	toBindings, err := columnBindings(ctx, conn, virt, o.Table)
	if err != nil {
		return err
	}
	reverseSQL := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(temp), o.Up.From.Value, o.Up.From.Where)
	if err := installStatementTrigger(ctx, conn, TriggerConfig{
		Name:      addColumnReverseTriggerName(mctx, o.Table, o.Column.Name),
		TableName: table,
		Columns:   toBindings,
		Condition: "NOT reshape.is_new_schema() AND current_setting('reshape.disable_triggers', true) IS DISTINCT FROM 'TRUE'",
		SQL:       reverseSQL,
	}); err != nil {
		return err
	}

	return backfill.BatchTouchRows(ctx, conn, from, "", bf)
}

func (o *AddColumn) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	table := o.Table
	temp := tempColumnName(mctx, o.Table, o.Column.Name)

	tx, err := conn.Transaction(ctx)
	if err != nil {
		return nil, err
	}

	if o.Up != nil {
		if err := dropTrigger(ctx, tx, addColumnTriggerName(mctx, o.Table, o.Column.Name), table); err != nil {
			tx.Rollback()
			return nil, err
		}
		if !o.Up.IsSimple() {
			if err := dropTrigger(ctx, tx, addColumnTriggerName(mctx, o.Table, o.Column.Name), o.Up.From.Table); err != nil {
				tx.Rollback()
				return nil, err
			}
			if err := dropTrigger(ctx, tx, addColumnReverseTriggerName(mctx, o.Table, o.Column.Name), table); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if !o.Column.Nullable {
		constraint := notNullConstraintName(mctx, o.Table, o.Column.Name)
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

	sql := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(temp), schema.QuoteIdentifier(o.Column.Name))
	if err := tx.Run(ctx, sql); err != nil {
		tx.Rollback()
		return nil, err
	}

	return tx, nil
}

func (o *AddColumn) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	table := o.Table
	temp := tempColumnName(mctx, o.Table, o.Column.Name)

	if o.Up != nil {
		if err := dropTrigger(ctx, conn, addColumnTriggerName(mctx, o.Table, o.Column.Name), table); err != nil {
			return err
		}
		if o.Up.From != nil {
			if err := dropTrigger(ctx, conn, addColumnTriggerName(mctx, o.Table, o.Column.Name), o.Up.From.Table); err != nil {
				return err
			}
			if err := dropTrigger(ctx, conn, addColumnReverseTriggerName(mctx, o.Table, o.Column.Name), table); err != nil {
				return err
			}
		}
	}

	return conn.Run(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP COLUMN IF EXISTS %s",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(temp)))
}

func (o *AddColumn) UpdateSchema(mctx Context, virt *schema.Schema) {
	temp := tempColumnName(mctx, o.Table, o.Column.Name)
	virt.ChangeTable(o.Table, func(t *schema.TableChanges) {
		t.ChangeColumn(o.Column.Name, func(c *schema.ColumnChanges) {
			c.SetColumn(temp)
		})
	})
}

func (o *AddColumn) ValidateSQL() []SQLCheck {
	if o.Up == nil {
		return nil
	}
	if o.Up.IsSimple() {
		return []SQLCheck{checkSQL("up", o.Up.SQL)}
	}
	var checks []SQLCheck
	checks = append(checks, checkSQL("up.value", o.Up.From.Value))
	if o.Up.From.Where != "" {
		checks = append(checks, checkSQL("up.where", o.Up.From.Where))
	}
	return checks
}
