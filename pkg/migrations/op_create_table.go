// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// CreateTable creates a new physical table, optionally kept in sync with
// an existing table via an insert/update trigger (spec §4.4.1).
type CreateTable struct {
	Type Type `json:"type"`

	Name        string            `json:"name"`
	Columns     []Column          `json:"columns"`
	PrimaryKey  []string          `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey      `json:"foreign_keys,omitempty"`
	Up          *CrossTableSource `json:"up,omitempty"`
}

var _ Action = (*CreateTable)(nil)

func (o *CreateTable) Describe() string {
	return fmt.Sprintf("create table %q", o.Name)
}

func (o *CreateTable) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	defs := make([]string, 0, len(o.Columns)+len(o.ForeignKeys)+1)
	for _, c := range o.Columns {
		defs = append(defs, columnDefSQL(c))
	}
	if len(o.PrimaryKey) > 0 {
		quoted := make([]string, len(o.PrimaryKey))
		for i, c := range o.PrimaryKey {
			quoted[i] = schema.QuoteIdentifier(c)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	for _, fk := range o.ForeignKeys {
		defs = append(defs, foreignKeySQL(virt, fk))
	}

	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		schema.QuoteIdentifier(o.Name), strings.Join(defs, ",\n\t"))
	if err := conn.Run(ctx, sql); err != nil {
		return fmt.Errorf("creating table %q: %w", o.Name, err)
	}

	if o.Up == nil {
		return nil
	}

	sourceTable := virt.PhysicalTable(o.Up.Table)
	bindings, err := columnBindings(ctx, conn, virt, o.Up.Table)
	if err != nil {
		return err
	}

	setClauses := make([]string, 0, len(o.Up.Values))
	insertCols := make([]string, 0, len(o.Up.Values))
	insertExprs := make([]string, 0, len(o.Up.Values))
	for col, expr := range o.Up.Values {
		insertCols = append(insertCols, schema.QuoteIdentifier(col))
		insertExprs = append(insertExprs, expr)
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", schema.QuoteIdentifier(col), expr))
	}

	onConflict := o.Up.UpsertConstraint
	if onConflict == "" {
		onConflict = o.Name + "_pkey"
	}

	sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT ON CONSTRAINT %s DO UPDATE SET %s",
		schema.QuoteIdentifier(o.Name),
		strings.Join(insertCols, ", "),
		strings.Join(insertExprs, ", "),
		schema.QuoteIdentifier(onConflict),
		strings.Join(setClauses, ", "),
	)

	// Named from the configured (logical) table, not its resolved
	// physical name: Complete and Abort have no virtual schema to
	// resolve against, so they must derive the identical identifier from
	// the same raw input Run used.
	trigger := createTableTriggerName(mctx, o.Up.Table)
	if err := installStatementTrigger(ctx, conn, TriggerConfig{
		Name:      trigger,
		TableName: sourceTable,
		Columns:   bindings,
		Condition: "NOT reshape.is_new_schema()",
		SQL:       sql,
	}); err != nil {
		return err
	}

	if err := backfill.BatchTouchRows(ctx, conn, sourceTable, "", bf); err != nil {
		return fmt.Errorf("backfilling %q into %q: %w", sourceTable, o.Name, err)
	}
	return nil
}

func (o *CreateTable) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	if o.Up == nil {
		return nil, nil
	}
	return nil, dropTrigger(ctx, conn, createTableTriggerName(mctx, o.Up.Table), o.Up.Table)
}

func (o *CreateTable) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	if o.Up != nil {
		if err := dropTrigger(ctx, conn, createTableTriggerName(mctx, o.Up.Table), o.Up.Table); err != nil {
			return err
		}
	}
	return conn.Run(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", schema.QuoteIdentifier(o.Name)))
}

// UpdateSchema is a no-op: the new table is exposed under its real name,
// which is already its logical name (spec §4.4.1).
func (o *CreateTable) UpdateSchema(mctx Context, virt *schema.Schema) {}

func (o *CreateTable) ValidateSQL() []SQLCheck {
	if o.Up == nil {
		return nil
	}
	var checks []SQLCheck
	for col, expr := range o.Up.Values {
		checks = append(checks, checkSQL("up.values."+col, expr))
	}
	if o.Up.Where != "" {
		checks = append(checks, checkSQL("up.where", o.Up.Where))
	}
	return checks
}
