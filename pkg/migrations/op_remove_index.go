// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// RemoveIndex is purely deferred: the index stays usable by the old
// schema until complete drops it (spec §4.4.7). No check is made for
// dependent objects; see Open Question (c).
type RemoveIndex struct {
	Type Type `json:"type"`

	Index string `json:"index"`
}

var _ Action = (*RemoveIndex)(nil)

func (o *RemoveIndex) Describe() string {
	return fmt.Sprintf("remove index %q", o.Index)
}

func (o *RemoveIndex) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	return nil
}

func (o *RemoveIndex) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	return nil, conn.Run(ctx, fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS %s", schema.QuoteIdentifier(o.Index)))
}

func (o *RemoveIndex) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	return nil
}

func (o *RemoveIndex) UpdateSchema(mctx Context, virt *schema.Schema) {}

func (o *RemoveIndex) ValidateSQL() []SQLCheck { return nil }
