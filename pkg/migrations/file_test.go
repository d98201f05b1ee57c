// SPDX-License-Identifier: Apache-2.0

package migrations_test

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshapedb/reshape/pkg/migrations"
)

func TestCollectFilesFromDirSortsNaturally(t *testing.T) {
	fsys := fstest.MapFS{
		"10_create_table.toml": {Data: []byte("")},
		"2_add_index.json":     {Data: []byte("")},
		"1_create_users.json":  {Data: []byte("")},
	}

	files, err := migrations.CollectFilesFromDir(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_create_users.json", "2_add_index.json", "10_create_table.toml"}, files)
}

func TestReadMigrationJSONDefaultsNameToStem(t *testing.T) {
	fsys := fstest.MapFS{
		"01_add_age.json": {Data: []byte(`{"actions":[]}`)},
	}

	mig, err := migrations.ReadMigration(fsys, "01_add_age.json")
	require.NoError(t, err)
	assert.Equal(t, "01_add_age", mig.Name)
	assert.Empty(t, mig.Actions)
}

func TestReadMigrationJSONDecodesActions(t *testing.T) {
	fsys := fstest.MapFS{
		"mig.json": {Data: []byte(`{
			"name": "add_users",
			"actions": [
				{"type": "create_table", "name": "users", "columns": [{"name": "id", "type": "serial"}]}
			]
		}`)},
	}

	mig, err := migrations.ReadMigration(fsys, "mig.json")
	require.NoError(t, err)
	require.Len(t, mig.Actions, 1)

	ct, ok := mig.Actions[0].(*migrations.CreateTable)
	require.True(t, ok)
	assert.Equal(t, "users", ct.Name)
}

func TestReadMigrationTOMLDecodesActions(t *testing.T) {
	fsys := fstest.MapFS{
		"mig.toml": {Data: []byte(`
name = "add_users"

[[actions]]
type = "create_table"
name = "users"

[[actions.columns]]
name = "id"
type = "serial"
`)},
	}

	mig, err := migrations.ReadMigration(fsys, "mig.toml")
	require.NoError(t, err)
	require.Len(t, mig.Actions, 1)

	ct, ok := mig.Actions[0].(*migrations.CreateTable)
	require.True(t, ok)
	assert.Equal(t, "users", ct.Name)
}

func TestReadMigrationJSONRejectsUnknownFields(t *testing.T) {
	fsys := fstest.MapFS{
		"mig.json": {Data: []byte(`{"name": "x", "actions": [], "bogus": true}`)},
	}

	_, err := migrations.ReadMigration(fsys, "mig.json")
	assert.Error(t, err)
}
