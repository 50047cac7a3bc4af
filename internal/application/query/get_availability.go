package query

import (
	"context"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/application/access"
	"github.com/lingua-coach/curriculum-engine/internal/domain/drip"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// ModuleAvailabilityQuery identifies a learner and a course.
type ModuleAvailabilityQuery struct {
	CourseID shared.CourseID
	UserID   shared.UserID
}

// ModuleAvailabilityResult lists the unlock state of every module.
type ModuleAvailabilityResult struct {
	CourseID    string              `json:"courseId"`
	DripEnabled bool                `json:"dripEnabled"`
	EnrolledAt  time.Time           `json:"enrolledAt"`
	EvaluatedAt time.Time           `json:"evaluatedAt"`
	Modules     []drip.Availability `json:"modules"`
}

// GetModuleAvailabilityHandler handles getModuleAvailability.
type GetModuleAvailabilityHandler struct {
	deps Deps
}

// NewGetModuleAvailabilityHandler creates a new GetModuleAvailabilityHandler.
func NewGetModuleAvailabilityHandler(d Deps) *GetModuleAvailabilityHandler {
	return &GetModuleAvailabilityHandler{deps: d.withDefaults()}
}

// Handle executes the query. A learner without an enrollment gets
// shared.ErrEnrollmentNotFound: there is no anchor for the schedule.
func (h *GetModuleAvailabilityHandler) Handle(ctx context.Context, q ModuleAvailabilityQuery) (*ModuleAvailabilityResult, error) {
	if !q.CourseID.IsValid() || !q.UserID.IsValid() {
		return nil, shared.NewDomainError("curriculum", "Availability", shared.ErrInvalidID, "course and learner ids are required")
	}

	var snap *access.Snapshot
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		var err error
		snap, err = access.Load(ctx, repos, q.CourseID, q.UserID, h.deps.Clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if !snap.Enrolled() {
		return nil, shared.ErrEnrollmentNotFound
	}

	return &ModuleAvailabilityResult{
		CourseID:    snap.Course.ID.String(),
		DripEnabled: snap.Course.Drip.Enabled,
		EnrolledAt:  snap.Enrollment.EnrolledAt,
		EvaluatedAt: snap.Now,
		Modules:     snap.Availability,
	}, nil
}
