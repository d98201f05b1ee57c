// SPDX-License-Identifier: Apache-2.0

package migrations

import "fmt"

// Every derived physical identifier embeds exactly one Context prefix
// (spec §3 invariant), so any of these names can be recomputed from an
// action's own MigrationContext without persisting them separately.

func tempColumnName(mctx Context, table, column string) string {
	return fmt.Sprintf("%s_temp_column_%s_%s", mctx.Prefix(), table, column)
}

func addColumnTriggerName(mctx Context, table, column string) string {
	return fmt.Sprintf("%s_add_column_%s_%s", mctx.Prefix(), table, column)
}

func addColumnReverseTriggerName(mctx Context, table, column string) string {
	return fmt.Sprintf("%s_add_column_reverse_%s_%s", mctx.Prefix(), table, column)
}

func notNullConstraintName(mctx Context, table, column string) string {
	return fmt.Sprintf("%s_not_null_%s_%s", mctx.Prefix(), table, column)
}

func createTableTriggerName(mctx Context, table string) string {
	return fmt.Sprintf("%s_create_table_%s", mctx.Prefix(), table)
}

func newColumnName(mctx Context, column string) string {
	return fmt.Sprintf("%s_new_%s", mctx.Prefix(), column)
}

func alterUpTriggerName(mctx Context, table, column string) string {
	return fmt.Sprintf("%s_up_%s_%s", mctx.Prefix(), table, column)
}

func alterDownTriggerName(mctx Context, table, column string) string {
	return fmt.Sprintf("%s_down_%s_%s", mctx.Inverse().Prefix(), table, column)
}

func tempIndexName(mctx Context, indexOID string) string {
	return fmt.Sprintf("%s_index_%s", mctx.Prefix(), indexOID)
}

func oldIndexName(mctx Context, index string) string {
	return fmt.Sprintf("%sold_%s_%s", ReservedPrefix, mctx.Prefix(), index)
}

func removeColumnTriggerName(mctx Context, table, column string) string {
	return fmt.Sprintf("%s_remove_column_%s_%s", mctx.Prefix(), table, column)
}

func removeColumnReverseTriggerName(mctx Context, table, column string) string {
	return fmt.Sprintf("%s_remove_column_reverse_%s_%s", mctx.Prefix(), table, column)
}

func removeColumnConstraintTriggerName(mctx Context, table, column string) string {
	return fmt.Sprintf("%s_remove_column_not_null_%s_%s", mctx.Prefix(), table, column)
}

func addForeignKeyConstraintName(mctx Context, table string, columns []string) string {
	name := table
	for _, c := range columns {
		name += "_" + c
	}
	return fmt.Sprintf("%s_fkey_tmp_%s", mctx.Prefix(), name)
}

func finalForeignKeyConstraintName(table string, columns []string) string {
	name := table
	for _, c := range columns {
		name += "_" + c
	}
	return name + "_fkey"
}
