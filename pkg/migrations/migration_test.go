// SPDX-License-Identifier: Apache-2.0

package migrations_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshapedb/reshape/pkg/migrations"
)

func TestMigrationEqualIsByNameOnly(t *testing.T) {
	a := &migrations.Migration{Name: "add_users", Actions: migrations.Actions{&migrations.CreateTable{Name: "users"}}}
	b := &migrations.Migration{Name: "add_users", Actions: migrations.Actions{&migrations.CreateTable{Name: "orders"}}}
	c := &migrations.Migration{Name: "add_orders"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	var nilMig *migrations.Migration
	assert.True(t, nilMig.Equal(nil))
	assert.False(t, a.Equal(nil))
}

func TestMigrationValidateSQLPrefixesActionIndex(t *testing.T) {
	mig := &migrations.Migration{
		Name: "add_age",
		Actions: migrations.Actions{
			&migrations.AlterColumn{Table: "users", Column: "age", Up: ptrString(""), Down: ptrString("age")},
		},
	}

	checks := mig.ValidateSQL()
	require.Len(t, checks, 2)
	for _, c := range checks {
		assert.Contains(t, c.Field, "actions[0].")
	}
	assert.Error(t, checks[0].Err)
}

func ptrString(s string) *string { return &s }

func TestActionsJSONRoundTripsThroughTypeDiscriminator(t *testing.T) {
	original := migrations.Actions{
		&migrations.CreateTable{
			Type:    migrations.TypeCreateTable,
			Name:    "users",
			Columns: []migrations.Column{{Name: "id", Type: "serial"}},
		},
		&migrations.AddColumn{
			Type:   migrations.TypeAddColumn,
			Table:  "users",
			Column: migrations.Column{Name: "age", Type: "integer"},
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded migrations.Actions
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)

	ct, ok := decoded[0].(*migrations.CreateTable)
	require.True(t, ok)
	assert.Equal(t, "users", ct.Name)

	ac, ok := decoded[1].(*migrations.AddColumn)
	require.True(t, ok)
	assert.Equal(t, "age", ac.Column.Name)
}

func TestActionsUnmarshalJSONRejectsUnknownType(t *testing.T) {
	var decoded migrations.Actions
	err := json.Unmarshal([]byte(`[{"type": "not_a_real_action"}]`), &decoded)
	assert.Error(t, err)
}
