// SPDX-License-Identifier: Apache-2.0

package backfill

import "fmt"

// NoPrimaryKeyError is returned when a table has no primary key to page
// the keyset backfill by.
type NoPrimaryKeyError struct {
	Table string
}

func (e NoPrimaryKeyError) Error() string {
	return fmt.Sprintf("table %q has no primary key; backfill requires one to page through rows", e.Table)
}
