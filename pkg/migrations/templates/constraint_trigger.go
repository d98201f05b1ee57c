// SPDX-License-Identifier: Apache-2.0

package templates

// ConstraintFunction generates the PL/pgSQL body of a constraint trigger
// that raises an exception instead of writing a column, used by
// RemoveColumn to keep enforcing NOT NULL for old-schema writers after the
// physical NOT NULL constraint has been relaxed (spec §4.4.4, §9).
const ConstraintFunction = `CREATE OR REPLACE FUNCTION {{ .Name | qi }}()
    RETURNS TRIGGER
    LANGUAGE PLPGSQL
    AS $$
    BEGIN
      IF NOT {{ .Condition }} AND NEW.{{ .TargetColumn | qi }} IS NULL THEN
        RAISE EXCEPTION {{ printf "%q.%q must not be null" .TableName .TargetColumn | ql }};
      END IF;

      RETURN NEW;
    END; $$
`

// ConstraintTrigger attaches a constraint-function as a row-level
// AFTER INSERT OR UPDATE constraint trigger (not deferrable).
const ConstraintTrigger = `CREATE CONSTRAINT TRIGGER {{ .Name | qi }}
    AFTER INSERT OR UPDATE
    ON {{ .TableName | qi }}
    FOR EACH ROW
    EXECUTE PROCEDURE {{ .Name | qi }}();
`
