// SPDX-License-Identifier: Apache-2.0

// Package migrations implements the action kernel (component D): the
// closed set of action variants a migration is built from, each driving
// its own slice of the dual-schema DDL/trigger/backfill protocol described
// in spec §4.4.
package migrations

import (
	"context"
	"fmt"

	"github.com/reshapedb/reshape/pkg/backfill"
	"github.com/reshapedb/reshape/pkg/db"
	"github.com/reshapedb/reshape/pkg/schema"
)

// ReservedPrefix is re-exported from pkg/schema for convenience: every
// physical identifier an action derives (temp columns, triggers,
// constraints) is built from it.
const ReservedPrefix = schema.ReservedPrefix

// Context carries the coordinates that make an action's derived physical
// identifiers deterministic and collision-free: MigrationIndex is this
// migration's position in the persisted Migrations list, ActionIndex this
// action's position within it.
type Context struct {
	MigrationIndex int
	ActionIndex    int
}

// Prefix returns this action's reserved-identifier prefix.
// __reshape_<migration_index:04>_<action_index:04>, per spec §3.
func (c Context) Prefix() string {
	return fmt.Sprintf("%s%04d_%04d", ReservedPrefix, c.MigrationIndex, c.ActionIndex)
}

// invertOffset bounds any realistic action index so Inverse's complement
// never collides with a real forward ActionIndex.
const invertOffset = 1 << 16

// Inverse returns the arithmetic-inverse context used to derive a second,
// non-colliding identifier prefix for the same action — e.g. AlterColumn's
// down trigger, which must not share a name with its up trigger (spec
// §3, §4.4.3).
func (c Context) Inverse() Context {
	return Context{MigrationIndex: c.MigrationIndex, ActionIndex: invertOffset - c.ActionIndex}
}

// SQLCheck is one pre-flight syntax check reported by Action.ValidateSQL:
// Field names which part of the action the SQL came from (e.g. "up",
// "down", "start"), SQL is the snippet itself, and Err is non-nil if the
// snippet failed the check.
type SQLCheck struct {
	Field string
	SQL   string
	Err   error
}

// Action is the contract every action variant implements (spec §4.4).
// Run, Complete and Abort must all be idempotent: the coordinator may
// re-invoke any of them after a crash recovers persisted state.
type Action interface {
	// Describe returns a short human-readable summary of the action.
	Describe() string

	// Run performs the forward DDL, trigger installation and backfill
	// that make the action's change visible through the new schema while
	// the old schema keeps working. bf configures any backfill sweep the
	// action performs (batch delay, progress callbacks); a nil bf means
	// the backfill engine's defaults.
	Run(ctx context.Context, mctx Context, conn db.DB, virt *schema.Schema, bf *backfill.Config) error

	// Complete performs the finalizing DDL that collapses the dual-schema
	// window: dropping triggers, validating constraints, renaming temp
	// columns to their final names. It may return a transaction the
	// coordinator commits after persisting state advancement inside it;
	// returning (nil, nil) means there's nothing left to wrap in a
	// transaction.
	Complete(ctx context.Context, mctx Context, conn db.DB) (db.TxDB, error)

	// Abort cleans up anything Run may have created, restoring the
	// physical schema to its pre-Run state.
	Abort(ctx context.Context, mctx Context, conn db.DB) error

	// UpdateSchema applies this action's logical changes to the virtual
	// schema model.
	UpdateSchema(mctx Context, virt *schema.Schema)

	// ValidateSQL runs pre-flight syntax checks over any user-supplied SQL
	// snippets the action carries, without touching the database.
	ValidateSQL() []SQLCheck
}

// Type discriminates an action's JSON "type" field and selects which
// concrete struct Actions.UnmarshalJSON decodes into.
type Type string

const (
	TypeCreateTable      Type = "create_table"
	TypeRenameTable      Type = "rename_table"
	TypeRemoveTable      Type = "remove_table"
	TypeAddColumn        Type = "add_column"
	TypeAlterColumn      Type = "alter_column"
	TypeRemoveColumn     Type = "remove_column"
	TypeAddIndex         Type = "add_index"
	TypeRemoveIndex      Type = "remove_index"
	TypeAddForeignKey    Type = "add_foreign_key"
	TypeRemoveForeignKey Type = "remove_foreign_key"
	TypeCreateEnum       Type = "create_enum"
	TypeRemoveEnum       Type = "remove_enum"
	TypeCustom           Type = "custom"
)

// newAction returns a zero-valued concrete Action for t, ready to be
// unmarshalled into.
func newAction(t Type) (Action, error) {
	switch t {
	case TypeCreateTable:
		return &CreateTable{Type: t}, nil
	case TypeRenameTable:
		return &RenameTable{Type: t}, nil
	case TypeRemoveTable:
		return &RemoveTable{Type: t}, nil
	case TypeAddColumn:
		return &AddColumn{Type: t}, nil
	case TypeAlterColumn:
		return &AlterColumn{Type: t}, nil
	case TypeRemoveColumn:
		return &RemoveColumn{Type: t}, nil
	case TypeAddIndex:
		return &AddIndex{Type: t}, nil
	case TypeRemoveIndex:
		return &RemoveIndex{Type: t}, nil
	case TypeAddForeignKey:
		return &AddForeignKey{Type: t}, nil
	case TypeRemoveForeignKey:
		return &RemoveForeignKey{Type: t}, nil
	case TypeCreateEnum:
		return &CreateEnum{Type: t}, nil
	case TypeRemoveEnum:
		return &RemoveEnum{Type: t}, nil
	case TypeCustom:
		return &Custom{Type: t}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
}
