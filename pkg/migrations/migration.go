// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"encoding/json"
	"fmt"
)

// Migration is a named, ordered unit of Actions. Identity and equality are
// by Name only (spec §3): two migrations with the same name are considered
// the same migration regardless of their Actions, which is what lets the
// coordinator detect a divergent re-apply attempt by comparing names.
type Migration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Actions     Actions `json:"actions"`
}

// Equal reports whether m and other are the same migration by name.
func (m *Migration) Equal(other *Migration) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Name == other.Name
}

// ValidateSQL runs every action's pre-flight SQL checks, prefixing each
// Field with the action's index so the CLI's check command can report
// exactly which action a failing snippet came from.
func (m *Migration) ValidateSQL() []SQLCheck {
	var checks []SQLCheck
	for i, act := range m.Actions {
		for _, c := range act.ValidateSQL() {
			c.Field = fmt.Sprintf("actions[%d].%s", i, c.Field)
			checks = append(checks, c)
		}
	}
	return checks
}

// Actions is the ordered list of a migration's Action steps, with a custom
// JSON representation: each element is an object carrying a "type"
// discriminator alongside the variant's own fields (spec §9: "a closed
// enum discriminated by a `type` tag in serialization").
type Actions []Action

func (a *Actions) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshalling actions: %w", err)
	}

	out := make(Actions, len(raw))
	for i, r := range raw {
		var peek struct {
			Type Type `json:"type"`
		}
		if err := json.Unmarshal(r, &peek); err != nil {
			return fmt.Errorf("unmarshalling action %d: %w", i, err)
		}

		act, err := newAction(peek.Type)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		if err := json.Unmarshal(r, act); err != nil {
			return fmt.Errorf("unmarshalling action %d (%s): %w", i, peek.Type, err)
		}
		out[i] = act
	}

	*a = out
	return nil
}
