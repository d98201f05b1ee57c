// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// RemoveTable is purely deferred: the table stays physically present
// (and visible through the old schema) until complete (spec §4.4.5).
type RemoveTable struct {
	Type Type `json:"type"`

	Table string `json:"table"`
}

var _ Action = (*RemoveTable)(nil)

func (o *RemoveTable) Describe() string {
	return fmt.Sprintf("remove table %q", o.Table)
}

func (o *RemoveTable) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	return nil
}

func (o *RemoveTable) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	return nil, conn.Run(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", schema.QuoteIdentifier(o.Table)))
}

func (o *RemoveTable) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	return nil
}

func (o *RemoveTable) UpdateSchema(mctx Context, virt *schema.Schema) {
	virt.ChangeTable(o.Table, func(t *schema.TableChanges) {
		t.SetRemoved(true)
	})
}

func (o *RemoveTable) ValidateSQL() []SQLCheck { return nil }
