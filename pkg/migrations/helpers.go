// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapedb/reshape/pkg/db"
)

// isNewSchemaFunctionTemplate installs reshape.is_new_schema(), the STABLE
// helper every write-translation trigger's Condition calls through. It reads
// two signals a client can set on its own session: the reshape.is_new_schema
// GUC set directly by a client that knows which schema it targets, or the
// search_path being pinned to exactly "migration_<target>", the namespace of
// the migration currently being applied (spec §4.6, §9). It must be an exact
// match, not a "migration_*" prefix match: during a dual-schema window a
// previous migration's namespace can still exist (it is dropped only at
// that migration's own complete), and a client pinned to *that* old
// namespace must still be classified as old-schema.
const isNewSchemaFunctionTemplate = `
CREATE SCHEMA IF NOT EXISTS reshape;

CREATE OR REPLACE FUNCTION reshape.is_new_schema()
    RETURNS BOOLEAN
    LANGUAGE PLPGSQL
    STABLE
    SECURITY INVOKER
    AS $$
    BEGIN
      IF current_setting('reshape.is_new_schema', true) = 'YES' THEN
        RETURN true;
      END IF;
      RETURN current_setting('search_path', true) = %s;
    END; $$
`

// InstallIsNewSchemaHelper creates reshape.is_new_schema(), idempotently,
// scoped to the namespace of the migration currently moving into Applying.
func InstallIsNewSchemaHelper(ctx context.Context, conn db.DB, targetMigration string) error {
	namespace := pq.QuoteLiteral("migration_" + targetMigration)
	stmt := fmt.Sprintf(isNewSchemaFunctionTemplate, namespace)
	if err := conn.Run(ctx, stmt); err != nil {
		return fmt.Errorf("installing reshape.is_new_schema(): %w", err)
	}
	return nil
}

// DropIsNewSchemaHelper removes reshape.is_new_schema(). Called once the
// migration returns to Idle (after Complete or Abort), once no trigger
// can still be calling it.
func DropIsNewSchemaHelper(ctx context.Context, conn db.DB) error {
	if err := conn.Run(ctx, "DROP FUNCTION IF EXISTS reshape.is_new_schema()"); err != nil {
		return fmt.Errorf("dropping reshape.is_new_schema(): %w", err)
	}
	return nil
}
