// SPDX-License-Identifier: Apache-2.0

package templates

// Trigger attaches a previously-created function as a BEFORE INSERT/UPDATE
// trigger. CREATE OR REPLACE makes installation idempotent, as every
// action's Run must be (spec §3 invariants, §4.4).
const Trigger = `CREATE OR REPLACE TRIGGER {{ .Name | qi }}
    BEFORE INSERT OR UPDATE
    ON {{ .TableName | qi }}
    FOR EACH ROW
    EXECUTE PROCEDURE {{ .Name | qi }}();
`
