// SPDX-License-Identifier: Apache-2.0

package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reshapedb/reshape/pkg/schema"
)

func TestChangeTableCreatesOnFirstTouch(t *testing.T) {
	s := schema.New()

	s.ChangeTable("users", func(t *schema.TableChanges) {
		t.SetName("people")
	})

	assert.Len(t, s.Tables, 1)
	assert.Equal(t, "users", s.Tables[0].RealName)
	assert.Equal(t, "people", s.Tables[0].CurrentName)
}

func TestChangeTableReusesExistingRecordByCurrentName(t *testing.T) {
	s := schema.New()

	s.ChangeTable("users", func(t *schema.TableChanges) {
		t.SetName("people")
	})
	s.ChangeTable("people", func(t *schema.TableChanges) {
		t.SetRemoved(true)
	})

	assert.Len(t, s.Tables, 1)
	assert.True(t, s.Tables[0].Removed)
	assert.Equal(t, "users", s.Tables[0].RealName)
}

func TestChangeColumnTracksBackingColumnStack(t *testing.T) {
	s := schema.New()

	s.ChangeTable("users", func(tc *schema.TableChanges) {
		tc.ChangeColumn("email", func(cc *schema.ColumnChanges) {
			cc.SetColumn("__reshape_0000_0000_email")
		})
	})

	s.ChangeTable("users", func(tc *schema.TableChanges) {
		tc.ChangeColumn("email", func(cc *schema.ColumnChanges) {
			cc.SetColumn("__reshape_0001_0000_email")
		})
	})

	var col *schema.ColumnChanges
	for _, c := range s.Tables[0].ColumnChanges {
		if c.CurrentName == "email" {
			col = c
		}
	}

	assert.NotNil(t, col)
	assert.Equal(t, []string{"email", "__reshape_0000_0000_email", "__reshape_0001_0000_email"}, col.BackingColumns)
	assert.Equal(t, "__reshape_0001_0000_email", col.LastBackingColumn())
}

func TestPhysicalTableFallsBackToLogicalNameWhenUntouched(t *testing.T) {
	s := schema.New()
	assert.Equal(t, "orders", s.PhysicalTable("orders"))
}

func TestPhysicalTableResolvesRename(t *testing.T) {
	s := schema.New()
	s.ChangeTable("orders", func(t *schema.TableChanges) {
		t.SetName("purchases")
	})

	assert.Equal(t, "orders", s.PhysicalTable("purchases"))
}

func TestPhysicalColumnResolvesBackingColumn(t *testing.T) {
	s := schema.New()
	s.ChangeTable("users", func(tc *schema.TableChanges) {
		tc.ChangeColumn("email", func(cc *schema.ColumnChanges) {
			cc.SetColumn("__reshape_0000_0000_email")
		})
	})

	assert.Equal(t, "__reshape_0000_0000_email", s.PhysicalColumn("users", "email"))
	assert.Equal(t, "name", s.PhysicalColumn("users", "name"))
}
