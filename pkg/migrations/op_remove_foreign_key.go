// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// RemoveForeignKey defers the drop to complete: dropping earlier would
// either require disabling checks or break the old schema's consistency
// guarantees while both schemas are still live (spec §4.4.9).
type RemoveForeignKey struct {
	Type Type `json:"type"`

	Table      string     `json:"table"`
	ForeignKey ForeignKey `json:"foreign_key"`
}

var _ Action = (*RemoveForeignKey)(nil)

func (o *RemoveForeignKey) Describe() string {
	return fmt.Sprintf("remove foreign key on %q", o.Table)
}

func (o *RemoveForeignKey) constraintName() string {
	return finalForeignKeyConstraintName(o.Table, o.ForeignKey.Columns)
}

func (o *RemoveForeignKey) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	table := virt.PhysicalTable(o.Table)
	rows, err := conn.QueryWithParams(ctx, `
		SELECT 1 FROM pg_constraint WHERE conrelid = $1::regclass AND conname = $2
	`, table, o.constraintName())
	if err != nil {
		return fmt.Errorf("checking foreign key %q on %q: %w", o.constraintName(), table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return fmt.Errorf("foreign key %q does not exist on %q", o.constraintName(), table)
	}
	return rows.Err()
}

func (o *RemoveForeignKey) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	sql := fmt.Sprintf("ALTER TABLE IF EXISTS %s DROP CONSTRAINT IF EXISTS %s",
		schema.QuoteIdentifier(o.Table), schema.QuoteIdentifier(o.constraintName()))
	return nil, conn.Run(ctx, sql)
}

func (o *RemoveForeignKey) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	return nil
}

func (o *RemoveForeignKey) UpdateSchema(mctx Context, virt *schema.Schema) {}

func (o *RemoveForeignKey) ValidateSQL() []SQLCheck { return nil }
