// SPDX-License-Identifier: Apache-2.0

package state

import "github.com/reshapedb/reshape/pkg/migrations"

// Phase names the migration lifecycle's current state (spec §3:
// Idle -> Applying -> InProgress -> Completing|Aborting -> Idle).
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseApplying   Phase = "applying"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleting Phase = "completing"
	PhaseAborting   Phase = "aborting"
)

// MigrationState is the single persisted value describing where the
// coordinator is in the migration lifecycle. Exactly one of its variants
// (selected by Phase) is meaningful at a time; the other fields are the
// zero value.
//
// Migrations is identical across every non-Idle transition of a single
// migration run: the coordinator refuses to re-apply a different list
// while Applying (spec §3 invariants).
type MigrationState struct {
	Phase      Phase                  `json:"phase"`
	Migrations []*migrations.Migration `json:"migrations,omitempty"`

	// CurrentMigrationIndex/CurrentActionIndex track progress through
	// Completing: the next (migration, action) pair to complete.
	CurrentMigrationIndex int `json:"current_migration_index,omitempty"`
	CurrentActionIndex    int `json:"current_action_index,omitempty"`

	// LastMigrationIndex/LastActionIndex bound Aborting: actions strictly
	// before these indices (in reverse traversal order) still need
	// aborting. Set to MAX when a fresh Aborting entered from InProgress
	// or Applying needs to unwind everything.
	LastMigrationIndex int `json:"last_migration_index,omitempty"`
	LastActionIndex    int `json:"last_action_index,omitempty"`
}

// Idle reports whether the coordinator is between migrations.
func (s *MigrationState) Idle() bool { return s.Phase == PhaseIdle }

// TargetMigration returns the last (most recently declared) migration of
// the in-flight set, or nil if Migrations is empty.
func (s *MigrationState) TargetMigration() *migrations.Migration {
	if len(s.Migrations) == 0 {
		return nil
	}
	return s.Migrations[len(s.Migrations)-1]
}

// SameMigrations reports whether other names the same ordered list of
// migrations as s.Migrations, by name equality (spec §3: "Migration...
// equality is by name only").
func (s *MigrationState) SameMigrations(other []*migrations.Migration) bool {
	if len(s.Migrations) != len(other) {
		return false
	}
	for i, m := range s.Migrations {
		if m.Name != other[i].Name {
			return false
		}
	}
	return true
}
