package drip

import (
	"fmt"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/pkg/timeutil"
)

// ModuleCompletion builds a CompletionFunc from the course activities and a
// learner's progress. A module counts as completed when every published
// mandatory activity in it is completed; a module without any is completed.
func ModuleCompletion(activities []*activity.Activity, idx progress.Index) CompletionFunc {
	done := make(map[shared.ModuleID]bool)
	for _, a := range activities {
		if _, seen := done[a.ModuleID]; !seen {
			done[a.ModuleID] = true
		}
		if !a.IsPublished() || !a.IsMandatory {
			continue
		}
		if idx.Status(a.ID) != progress.StatusCompleted {
			done[a.ModuleID] = false
		}
	}
	return func(id shared.ModuleID) bool {
		ok, seen := done[id]
		return !seen || ok
	}
}

// Access decides whether a learner may open a published activity. The module
// must be unlocked, and the activity's own unlock fields are honored on top.
func Access(a *activity.Activity, avail []Availability, idx progress.Index, now time.Time) error {
	m, ok := Find(avail, a.ModuleID)
	if !ok || !m.Unlocked {
		msg := fmt.Sprintf("module %s is locked", a.ModuleID)
		if ok && m.AvailableAt != nil {
			msg = fmt.Sprintf("module %s unlocks at %s", a.ModuleID, m.AvailableAt.UTC().Format(time.RFC3339))
		} else if ok && m.Reason == ReasonPrerequisitePending {
			msg = fmt.Sprintf("module %s unlocks once the previous module is completed", a.ModuleID)
		}
		return shared.NewDomainError("progress", "Access", shared.ErrContentLocked, msg)
	}

	switch a.UnlockMode {
	case curriculum.UnlockScheduled:
		if a.AvailableAt != nil && !timeutil.NotAfter(*a.AvailableAt, now) {
			return shared.Errorf("progress", "Access", shared.ErrContentLocked,
				"activity %s unlocks at %s", a.ID, a.AvailableAt.UTC().Format(time.RFC3339))
		}
	case curriculum.UnlockPrerequisite:
		if a.PrerequisiteActivityID.IsValid() && idx.Status(a.PrerequisiteActivityID) != progress.StatusCompleted {
			return shared.Errorf("progress", "Access", shared.ErrContentLocked,
				"activity %s requires %s to be completed first", a.ID, a.PrerequisiteActivityID)
		}
	case curriculum.UnlockImmediate, "":
	}
	return nil
}
