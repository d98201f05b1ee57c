// SPDX-License-Identifier: Apache-2.0

package migrations_test

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reshapedb/reshape/pkg/migrations"
)

func TestAddColumn(t *testing.T) {
	t.Parallel()

	ExecuteTests(t, TestCases{
		{
			name: "add not-null column with default is writable through the new schema",
			migrations: []*migrations.Migration{
				{
					Name: "01_create_users",
					Actions: migrations.Actions{
						&migrations.CreateTable{
							Name: "users",
							Columns: []migrations.Column{
								{Name: "id", Type: "serial"},
								{Name: "name", Type: "varchar(255)"},
							},
							PrimaryKey: []string{"id"},
						},
					},
				},
				{
					Name: "02_add_age",
					Actions: migrations.Actions{
						&migrations.AddColumn{
							Table: "users",
							Column: migrations.Column{
								Name:     "age",
								Type:     "integer",
								Nullable: false,
								Default:  ptr("0"),
							},
						},
					},
				},
			},
			afterStart: func(t *testing.T, conn *sql.DB, namespace string) {
				ViewMustExist(t, conn, namespace, "users")
				MustInsert(t, conn, namespace, "users", map[string]string{"name": "Bob", "age": "21"})

				res := MustSelect(t, conn, namespace, "users")
				assert.Len(t, res, 1)
				assert.EqualValues(t, 21, res[0]["age"])
			},
			afterRollback: func(t *testing.T, conn *sql.DB) {
				ColumnMustNotExist(t, conn, "users", "age")
			},
			afterComplete: func(t *testing.T, conn *sql.DB, namespace string) {
				ColumnMustExist(t, conn, "users", "age")
				ViewMustExist(t, conn, namespace, "users")
			},
		},
	})
}
