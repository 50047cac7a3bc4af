package command

import (
	"context"
	"fmt"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/drip"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SAVE COURSE DRIP / SAVE MODULE UNLOCK COMMANDS
// Drip release and prerequisite gating cannot be combined in one course; both
// commands check the other side before writing anything.
// ══════════════════════════════════════════════════════════════════════════════

// SaveCourseDripCommand sets the drip configuration of a course.
type SaveCourseDripCommand struct {
	CourseID shared.CourseID
	Config   curriculum.DripConfig
}

// Validate validates the command.
func (c SaveCourseDripCommand) Validate() error {
	if !c.CourseID.IsValid() {
		return shared.NewDomainError("curriculum", "SaveDrip", shared.ErrInvalidID, "course id is required")
	}
	return nil
}

// SaveCourseDripHandler handles SaveCourseDripCommand.
type SaveCourseDripHandler struct {
	deps Deps
}

// NewSaveCourseDripHandler creates a new SaveCourseDripHandler.
func NewSaveCourseDripHandler(d Deps) *SaveCourseDripHandler {
	return &SaveCourseDripHandler{deps: d.withDefaults()}
}

// Handle executes the command and returns the updated course.
func (h *SaveCourseDripHandler) Handle(ctx context.Context, cmd SaveCourseDripCommand) (*curriculum.Course, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	cfg := cmd.Config
	if cfg.Unit == "" {
		cfg.Unit = curriculum.DripDays
	}

	var saved *curriculum.Course
	err := h.deps.Store.WithTx(ctx, uow.ReadWrite, func(repos uow.Repositories) error {
		course, err := repos.Curriculum().GetCourse(ctx, cmd.CourseID)
		if err != nil {
			return err
		}
		modules, err := repos.Curriculum().ListModules(ctx, cmd.CourseID)
		if err != nil {
			return fmt.Errorf("save_drip: %w", err)
		}
		if err := drip.ValidateConfig(cfg, modules); err != nil {
			return err
		}

		course.Drip = cfg
		course.UpdatedAt = h.deps.Clock.Now()
		if err := repos.Curriculum().SaveCourse(ctx, course); err != nil {
			return err
		}
		saved = course
		return nil
	})
	if err != nil {
		h.deps.log(ctx).Warn("save drip rejected", logger.CourseID(cmd.CourseID.String()), logger.Err(err))
		return nil, err
	}
	h.deps.publish(ctx, shared.NewDripChangedEvent(saved.ID, "", saved.UpdatedAt))
	return saved, nil
}

// SaveModuleUnlockCommand sets how a module is released.
type SaveModuleUnlockCommand struct {
	ModuleID    shared.ModuleID
	UnlockMode  curriculum.UnlockMode
	AvailableAt *time.Time
}

// Validate validates the command.
func (c SaveModuleUnlockCommand) Validate() error {
	if !c.ModuleID.IsValid() {
		return shared.NewDomainError("curriculum", "SaveModule", shared.ErrInvalidID, "module id is required")
	}
	if !c.UnlockMode.IsValid() {
		return shared.Errorf("curriculum", "SaveModule", shared.ErrInvalidInput, "unknown unlock mode %q", c.UnlockMode)
	}
	return nil
}

// SaveModuleUnlockHandler handles SaveModuleUnlockCommand.
type SaveModuleUnlockHandler struct {
	deps Deps
}

// NewSaveModuleUnlockHandler creates a new SaveModuleUnlockHandler.
func NewSaveModuleUnlockHandler(d Deps) *SaveModuleUnlockHandler {
	return &SaveModuleUnlockHandler{deps: d.withDefaults()}
}

// Handle executes the command and returns the updated module.
func (h *SaveModuleUnlockHandler) Handle(ctx context.Context, cmd SaveModuleUnlockCommand) (*curriculum.Module, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var saved *curriculum.Module
	err := h.deps.Store.WithTx(ctx, uow.ReadWrite, func(repos uow.Repositories) error {
		m, err := repos.Curriculum().GetModule(ctx, cmd.ModuleID)
		if err != nil {
			return err
		}
		course, err := repos.Curriculum().GetCourse(ctx, m.CourseID)
		if err != nil {
			return err
		}

		m.UnlockMode = cmd.UnlockMode
		m.AvailableAt = nil
		if cmd.AvailableAt != nil {
			t := cmd.AvailableAt.UTC()
			m.AvailableAt = &t
		}
		if err := drip.ValidateModule(course.Drip, m); err != nil {
			return err
		}

		m.UpdatedAt = h.deps.Clock.Now()
		if err := repos.Curriculum().SaveModule(ctx, m); err != nil {
			return err
		}
		saved = m
		return nil
	})
	if err != nil {
		h.deps.log(ctx).Warn("save module unlock rejected", logger.ModuleID(cmd.ModuleID.String()), logger.Err(err))
		return nil, err
	}
	h.deps.publish(ctx, shared.NewDripChangedEvent(saved.CourseID, saved.ID, saved.UpdatedAt))
	return saved, nil
}
