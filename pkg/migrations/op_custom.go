// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// Custom runs up to three user-supplied SQL strings verbatim at the
// matching lifecycle step, an escape hatch for anything the closed
// action set doesn't model (spec §4.4.11).
type Custom struct {
	Type Type `json:"type"`

	Start    *string `json:"start,omitempty"`
	Complete *string `json:"complete,omitempty"`
	Abort    *string `json:"abort,omitempty"`
}

var _ Action = (*Custom)(nil)

func (o *Custom) Describe() string {
	return "run custom SQL"
}

func (o *Custom) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	if o.Start == nil {
		return nil
	}
	if err := conn.Run(ctx, *o.Start); err != nil {
		return fmt.Errorf("running custom start SQL: %w", err)
	}
	return nil
}

func (o *Custom) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	if o.Complete == nil {
		return nil, nil
	}
	return nil, conn.Run(ctx, *o.Complete)
}

func (o *Custom) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	if o.Abort == nil {
		return nil
	}
	return conn.Run(ctx, *o.Abort)
}

func (o *Custom) UpdateSchema(mctx Context, virt *schema.Schema) {}

func (o *Custom) ValidateSQL() []SQLCheck {
	var checks []SQLCheck
	if o.Start != nil {
		checks = append(checks, checkSQL("start", *o.Start))
	}
	if o.Complete != nil {
		checks = append(checks, checkSQL("complete", *o.Complete))
	}
	if o.Abort != nil {
		checks = append(checks, checkSQL("abort", *o.Abort))
	}
	return checks
}
