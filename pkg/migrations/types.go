// SPDX-License-Identifier: Apache-2.0

package migrations

import "encoding/json"

// Column describes one column of a CreateTable action.
type Column struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Nullable  bool    `json:"nullable,omitempty"`
	Default   *string `json:"default,omitempty"`
	Generated *string `json:"generated,omitempty"`
}

// ForeignKey describes a table-level foreign key constraint, resolved
// through the virtual schema to physical table/column names at Run time.
type ForeignKey struct {
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
	OnDelete          string   `json:"on_delete,omitempty"`
}

// Index describes an index to add.
type Index struct {
	Name          string `json:"name"`
	Columns       []string `json:"columns"`
	Unique        bool   `json:"unique,omitempty"`
	Concurrently  *bool  `json:"concurrently,omitempty"`
	Type          string `json:"type,omitempty"`
}

// ConcurrentlyOrDefault reports whether the index should be created
// CONCURRENTLY, defaulting to true per spec §4.4.6.
func (i Index) ConcurrentlyOrDefault() bool {
	if i.Concurrently == nil {
		return true
	}
	return *i.Concurrently
}

// CrossTableSource describes a write that must be propagated from one
// table to another: used by CreateTable.Up (a row in `table` populates the
// new table), AddColumn.Up and RemoveColumn.Down (a row in `table` updates
// a column on the acting table).
type CrossTableSource struct {
	Table            string            `json:"table"`
	Values           map[string]string `json:"values,omitempty"`
	Value            string            `json:"value,omitempty"`
	Where            string            `json:"where,omitempty"`
	UpsertConstraint string            `json:"upsert_constraint,omitempty"`
}

// Expression is the sum type spec §4.4 uses for `up`/`down`: either a
// simple SQL expression string, or a CrossTableSource object describing a
// write to propagate from a different table.
type Expression struct {
	SQL  string
	From *CrossTableSource
}

func (e *Expression) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.SQL = s
		e.From = nil
		return nil
	}

	var src CrossTableSource
	if err := json.Unmarshal(data, &src); err != nil {
		return err
	}
	e.From = &src
	return nil
}

func (e Expression) MarshalJSON() ([]byte, error) {
	if e.From != nil {
		return json.Marshal(e.From)
	}
	return json.Marshal(e.SQL)
}

// IsSimple reports whether this expression is a bare SQL string rather
// than a cross-table propagation.
func (e *Expression) IsSimple() bool { return e != nil && e.From == nil }
