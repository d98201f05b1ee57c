// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// RenameTable is purely deferred: the physical rename happens at
// complete, so the old name keeps working for the old schema throughout
// the dual-schema window (spec §4.4.5).
type RenameTable struct {
	Type Type `json:"type"`

	From string `json:"from"`
	To   string `json:"to"`
}

var _ Action = (*RenameTable)(nil)

func (o *RenameTable) Describe() string {
	return fmt.Sprintf("rename table %q to %q", o.From, o.To)
}

func (o *RenameTable) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	return nil
}

func (o *RenameTable) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	sql := fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME TO %s",
		schema.QuoteIdentifier(o.From), schema.QuoteIdentifier(o.To))
	return nil, conn.Run(ctx, sql)
}

func (o *RenameTable) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	return nil
}

func (o *RenameTable) UpdateSchema(mctx Context, virt *schema.Schema) {
	virt.ChangeTable(o.From, func(t *schema.TableChanges) {
		t.SetName(o.To)
	})
}

func (o *RenameTable) ValidateSQL() []SQLCheck { return nil }
