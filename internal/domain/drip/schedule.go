// Package drip computes when each module of a course becomes available to a
// learner. It is a pure function family over the course drip configuration,
// the ordered module list, the enrollment timestamp and per-module completion.
package drip

import (
	"fmt"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/pkg/timeutil"
)

// Reason explains an availability decision.
type Reason string

const (
	ReasonImmediate           Reason = "immediate"
	ReasonDrip                Reason = "drip"
	ReasonScheduled           Reason = "scheduled"
	ReasonUnscheduled         Reason = "unscheduled"
	ReasonPrerequisiteMet     Reason = "prerequisite_met"
	ReasonPrerequisitePending Reason = "prerequisite_pending"
	ReasonFirstModule         Reason = "first_module"
)

// Availability is the computed unlock state of one module for one learner.
type Availability struct {
	ModuleID    shared.ModuleID       `json:"moduleId"`
	Ordinal     int                   `json:"ordinal"`
	UnlockMode  curriculum.UnlockMode `json:"unlockMode"`
	AvailableAt *time.Time            `json:"availableAt,omitempty"`
	Unlocked    bool                  `json:"unlocked"`
	Reason      Reason                `json:"reason"`
}

// CompletionFunc reports whether a learner completed every mandatory activity
// of a module.
type CompletionFunc func(shared.ModuleID) bool

// AvailableAt returns enrolledAt shifted by interval*(ordinal-1) units, so the
// first module opens at enrollment and each following one a full interval later.
func AvailableAt(cfg curriculum.DripConfig, enrolledAt time.Time, ordinal int) time.Time {
	steps := cfg.Interval * (ordinal - 1)
	if steps <= 0 {
		return enrolledAt
	}
	switch cfg.Unit {
	case curriculum.DripWeeks:
		return timeutil.AddWeeks(enrolledAt, steps)
	case curriculum.DripMonths:
		return timeutil.AddMonths(enrolledAt, steps)
	case curriculum.DripDays:
		return timeutil.AddDays(enrolledAt, steps)
	default:
		return timeutil.AddDays(enrolledAt, steps)
	}
}

// Evaluate computes availability for modules, which must be ordered by their
// position in the course. completed may be nil when no module uses
// prerequisite gating.
func Evaluate(cfg curriculum.DripConfig, modules []*curriculum.Module, enrolledAt, now time.Time, completed CompletionFunc) []Availability {
	out := make([]Availability, 0, len(modules))
	for i, m := range modules {
		ordinal := i + 1
		a := Availability{ModuleID: m.ID, Ordinal: ordinal, UnlockMode: m.UnlockMode}

		switch m.UnlockMode {
		case curriculum.UnlockImmediate:
			a.Unlocked = true
			a.Reason = ReasonImmediate

		case curriculum.UnlockScheduled:
			switch {
			case cfg.Enabled:
				at := AvailableAt(cfg, enrolledAt, ordinal)
				a.AvailableAt = &at
				a.Unlocked = timeutil.NotAfter(at, now)
				a.Reason = ReasonDrip
			case m.AvailableAt != nil:
				at := *m.AvailableAt
				a.AvailableAt = &at
				a.Unlocked = timeutil.NotAfter(at, now)
				a.Reason = ReasonScheduled
			default:
				a.Unlocked = true
				a.Reason = ReasonUnscheduled
			}

		case curriculum.UnlockPrerequisite:
			if i == 0 {
				a.Unlocked = true
				a.Reason = ReasonFirstModule
				break
			}
			prev := modules[i-1].ID
			if completed != nil && completed(prev) {
				a.Unlocked = true
				a.Reason = ReasonPrerequisiteMet
			} else {
				a.Reason = ReasonPrerequisitePending
			}

		default:
			// Unknown modes never unlock; ValidateModule rejects them on save.
			a.Reason = ReasonPrerequisitePending
		}
		out = append(out, a)
	}
	return out
}

// ValidateConfig checks a course drip configuration against the unlock modes
// of its modules. Drip and prerequisite gating cannot be combined in one course.
func ValidateConfig(cfg curriculum.DripConfig, modules []*curriculum.Module) error {
	if cfg.Enabled {
		if cfg.Interval < 1 {
			return shared.Errorf("curriculum", "SaveDrip", shared.ErrValueOutOfRange,
				"drip interval must be at least 1, got %d", cfg.Interval)
		}
		if !cfg.Unit.IsValid() {
			return shared.Errorf("curriculum", "SaveDrip", shared.ErrInvalidInput, "unknown drip unit %q", cfg.Unit)
		}
		for _, m := range modules {
			if m.UnlockMode == curriculum.UnlockPrerequisite {
				return conflict(m.ID)
			}
		}
	}
	if cfg.Interval < 0 {
		return shared.Errorf("curriculum", "SaveDrip", shared.ErrValueOutOfRange, "drip interval cannot be negative")
	}
	return nil
}

// ValidateModule checks a module's unlock mode against its course drip configuration.
func ValidateModule(cfg curriculum.DripConfig, m *curriculum.Module) error {
	if !m.UnlockMode.IsValid() {
		return shared.Errorf("curriculum", "SaveModule", shared.ErrInvalidInput, "unknown unlock mode %q", m.UnlockMode)
	}
	if cfg.Enabled && m.UnlockMode == curriculum.UnlockPrerequisite {
		return conflict(m.ID)
	}
	return nil
}

func conflict(id shared.ModuleID) error {
	return shared.NewDomainError("curriculum", "SaveDrip", shared.ErrConflictingUnlock,
		fmt.Sprintf("module %s uses prerequisite unlocking while course drip is enabled", id))
}

// Find returns the availability entry for a module.
func Find(list []Availability, id shared.ModuleID) (Availability, bool) {
	for _, a := range list {
		if a.ModuleID == id {
			return a, true
		}
	}
	return Availability{}, false
}
