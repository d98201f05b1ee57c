// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// AddForeignKey adds a foreign key in two steps — NOT VALID, then
// VALIDATE CONSTRAINT — so the validating scan never holds the
// exclusive lock ADD CONSTRAINT alone would need (spec §4.4.8).
type AddForeignKey struct {
	Type Type `json:"type"`

	Table      string     `json:"table"`
	ForeignKey ForeignKey `json:"foreign_key"`
}

var _ Action = (*AddForeignKey)(nil)

func (o *AddForeignKey) Describe() string {
	return fmt.Sprintf("add foreign key on %q", o.Table)
}

func (o *AddForeignKey) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	table := virt.PhysicalTable(o.Table)
	tempName := addForeignKeyConstraintName(mctx, o.Table, o.ForeignKey.Columns)

	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s NOT VALID",
		schema.QuoteIdentifier(table), schema.QuoteIdentifier(tempName), foreignKeySQL(virt, o.ForeignKey))
	if err := conn.Run(ctx, sql); err != nil {
		return fmt.Errorf("adding foreign key on %q: %w", table, err)
	}

	sql = fmt.Sprintf("ALTER TABLE %s VALIDATE CONSTRAINT %s", schema.QuoteIdentifier(table), schema.QuoteIdentifier(tempName))
	if err := conn.Run(ctx, sql); err != nil {
		return fmt.Errorf("validating foreign key on %q: %w", table, err)
	}
	return nil
}

func (o *AddForeignKey) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	tempName := addForeignKeyConstraintName(mctx, o.Table, o.ForeignKey.Columns)
	finalName := finalForeignKeyConstraintName(o.Table, o.ForeignKey.Columns)
	sql := fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME CONSTRAINT %s TO %s",
		schema.QuoteIdentifier(o.Table), schema.QuoteIdentifier(tempName), schema.QuoteIdentifier(finalName))
	return nil, conn.Run(ctx, sql)
}

func (o *AddForeignKey) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	tempName := addForeignKeyConstraintName(mctx, o.Table, o.ForeignKey.Columns)
	return conn.Run(ctx, fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP CONSTRAINT IF EXISTS %s",
		schema.QuoteIdentifier(o.Table), schema.QuoteIdentifier(tempName)))
}

func (o *AddForeignKey) UpdateSchema(mctx Context, virt *schema.Schema) {}

func (o *AddForeignKey) ValidateSQL() []SQLCheck { return nil }
