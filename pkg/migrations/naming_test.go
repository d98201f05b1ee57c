// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextPrefixIsDeterministic(t *testing.T) {
	mctx := Context{MigrationIndex: 3, ActionIndex: 7}
	assert.Equal(t, "__reshape_0003_0007", mctx.Prefix())
}

func TestContextInverseDoesNotCollideWithForwardIndices(t *testing.T) {
	mctx := Context{MigrationIndex: 1, ActionIndex: 2}
	inv := mctx.Inverse()

	assert.Equal(t, mctx.MigrationIndex, inv.MigrationIndex)
	assert.NotEqual(t, mctx.Prefix(), inv.Prefix())
	// Any action index a later migration step could plausibly reach stays
	// well clear of the inverted complement.
	assert.Greater(t, inv.ActionIndex, 1<<15)
}

func TestDerivedNamesEmbedExactlyOneContextPrefix(t *testing.T) {
	mctx := Context{MigrationIndex: 2, ActionIndex: 5}

	names := []string{
		tempColumnName(mctx, "users", "age"),
		addColumnTriggerName(mctx, "users", "age"),
		addColumnReverseTriggerName(mctx, "users", "age"),
		notNullConstraintName(mctx, "users", "age"),
		createTableTriggerName(mctx, "users"),
		newColumnName(mctx, "age"),
		alterUpTriggerName(mctx, "users", "age"),
		removeColumnTriggerName(mctx, "users", "age"),
		removeColumnReverseTriggerName(mctx, "users", "age"),
		removeColumnConstraintTriggerName(mctx, "users", "age"),
	}

	prefix := mctx.Prefix()
	for _, name := range names {
		assert.Equal(t, 1, strings.Count(name, prefix), name)
	}
}

func TestAlterDownTriggerNameUsesInverseContext(t *testing.T) {
	mctx := Context{MigrationIndex: 0, ActionIndex: 1}

	down := alterDownTriggerName(mctx, "users", "age")
	assert.Contains(t, down, mctx.Inverse().Prefix())
	assert.NotContains(t, down, mctx.Prefix())
}

func TestFinalForeignKeyConstraintNameIsStable(t *testing.T) {
	name := finalForeignKeyConstraintName("orders", []string{"customer_id"})
	assert.Equal(t, "orders_customer_id_fkey", name)
}
