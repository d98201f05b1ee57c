// SPDX-License-Identifier: Apache-2.0

package migrations_test

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reshapedb/reshape/pkg/migrations"
)

func ptr(s string) *string { return &s }

func TestCreateTable(t *testing.T) {
	t.Parallel()

	ExecuteTests(t, TestCases{
		{
			name: "create table",
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
			},
			afterStart: func(t *testing.T, conn *sql.DB, namespace string) {
				ViewMustExist(t, conn, namespace, "users")
				MustInsert(t, conn, namespace, "users", map[string]string{"name": "Alice"})
				res := MustSelect(t, conn, namespace, "users")
				assert.Len(t, res, 1)
			},
			afterRollback: func(t *testing.T, conn *sql.DB) {
				TableMustNotExist(t, conn, "users")
			},
			afterComplete: func(t *testing.T, conn *sql.DB, namespace string) {
				ViewMustExist(t, conn, namespace, "users")
				TableMustExist(t, conn, "users")
			},
		},
	})
}
