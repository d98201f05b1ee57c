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

// CreateEnum creates a Postgres enum type. Postgres has no native CREATE
// TYPE IF NOT EXISTS, so existence is checked via pg_type first (spec
// §4.4.10).
type CreateEnum struct {
	Type Type `json:"type"`

	Name   string   `json:"name"`
	Values []string `json:"values"`
}

var _ Action = (*CreateEnum)(nil)

func (o *CreateEnum) Describe() string {
	return fmt.Sprintf("create enum %q", o.Name)
}

func (o *CreateEnum) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	rows, err := conn.QueryWithParams(ctx, `SELECT 1 FROM pg_type WHERE typname = $1`, o.Name)
	if err != nil {
		return fmt.Errorf("checking for existing enum %q: %w", o.Name, err)
	}
	exists := rows.Next()
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	if exists {
		return nil
	}

	quoted := make([]string, len(o.Values))
	for i, v := range o.Values {
		quoted[i] = schema.QuoteLiteral(v)
	}
	sql := fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)", schema.QuoteIdentifier(o.Name), strings.Join(quoted, ", "))
	if err := conn.Run(ctx, sql); err != nil {
		return fmt.Errorf("creating enum %q: %w", o.Name, err)
	}
	return nil
}

func (o *CreateEnum) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	return nil, nil
}

func (o *CreateEnum) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	return conn.Run(ctx, fmt.Sprintf("DROP TYPE IF EXISTS %s", schema.QuoteIdentifier(o.Name)))
}

func (o *CreateEnum) UpdateSchema(mctx Context, virt *schema.Schema) {}

func (o *CreateEnum) ValidateSQL() []SQLCheck { return nil }

// RemoveEnum defers the drop to complete, since the old schema may still
// reference the type through a live column (spec §4.4.10).
type RemoveEnum struct {
	Type Type `json:"type"`

	Name string `json:"name"`
}

var _ Action = (*RemoveEnum)(nil)

func (o *RemoveEnum) Describe() string {
	return fmt.Sprintf("remove enum %q", o.Name)
}

func (o *RemoveEnum) Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error {
	return nil
}

func (o *RemoveEnum) Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error) {
	return nil, conn.Run(ctx, fmt.Sprintf("DROP TYPE IF EXISTS %s", schema.QuoteIdentifier(o.Name)))
}

func (o *RemoveEnum) Abort(ctx context.Context, mctx Context, conn db.DB) error {
	return nil
}

func (o *RemoveEnum) UpdateSchema(mctx Context, virt *schema.Schema) {}

func (o *RemoveEnum) ValidateSQL() []SQLCheck { return nil }
