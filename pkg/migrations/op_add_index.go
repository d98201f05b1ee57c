// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// AddIndex creates an index, concurrently by default so it never blocks
// writers on the table it covers (spec §4.4.6).
type AddIndex struct {
	Type Type `json:"type"`

	Table string `json:"table"`
	Index Index  `json:"index"`
}

var _ Action = (*AddIndex)(nil)

func (o *AddIndex) Describe() string {
	return fmt.Sprintf("add index %q on %q", o.Index.Name, o.Table)
}

func (o *AddIndex) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	table := virt.PhysicalTable(o.Table)
	sql := indexSQL(table, o.Index, o.Index.ConcurrentlyOrDefault(), "", "", o.Index.Name)
	if err := conn.Run(ctx, sql); err != nil {
		return fmt.Errorf("creating index %q: %w", o.Index.Name, err)
	}
	return nil
}

func (o *AddIndex) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	return nil, nil
}

func (o *AddIndex) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	concurrently := ""
	if o.Index.ConcurrentlyOrDefault() {
		concurrently = "CONCURRENTLY "
	}
	return conn.Run(ctx, fmt.Sprintf("DROP INDEX %sIF EXISTS %s", concurrently, schema.QuoteIdentifier(o.Index.Name)))
}

func (o *AddIndex) UpdateSchema(mctx Context, virt *schema.Schema) {}

func (o *AddIndex) ValidateSQL() []SQLCheck { return nil }
