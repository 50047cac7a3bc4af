package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lingua-coach/curriculum-engine/config"
	"github.com/lingua-coach/curriculum-engine/internal/application/command"
	"github.com/lingua-coach/curriculum-engine/internal/application/query"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/quiz"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/transfer"
	"github.com/lingua-coach/curriculum-engine/internal/interface/http/handlers"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if status.Version == "" {
		status.Version = s.config.Version
	}
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness probe. A degraded service is still ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Healthy {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"status": "ready", "degraded": status.Degraded})
}

// handleLive handles the liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PUBLIC CONTENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleSlotTemplate handles GET /api/v1/slot-template
func (s *Server) handleSlotTemplate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Queries.SlotTemplate.Handle(r.Context()))
}

// handleLessonActivities handles GET /api/v1/lessons/{id}/activities
func (s *Server) handleLessonActivities(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.LessonActivities.Handle(r.Context(), query.LessonQuery{
		LessonID: shared.LessonID(r.PathValue("id")),
		Audience: query.Learner,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{TotalCount: len(res.Activities)})
}

// handleLessonSlots handles GET /api/v1/lessons/{id}/slots
func (s *Server) handleLessonSlots(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.LessonSlots.Handle(r.Context(), query.LessonQuery{
		LessonID: shared.LessonID(r.PathValue("id")),
		Audience: query.Learner,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleGetActivity handles GET /api/v1/activities/{id}. Drafts are only
// visible to authors, so an author token widens the audience.
func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	audience := query.Learner
	if p, err := s.deps.Auth.Verify(handlers.BearerToken(r)); err == nil && p.Author {
		audience = query.Author
	}
	res, err := s.deps.Queries.Activity.Handle(r.Context(), query.GetActivityQuery{
		ID:       shared.ActivityID(r.PathValue("id")),
		Audience: audience,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// learner returns the authenticated user id. route guarantees a principal on
// learner routes.
func learner(r *http.Request) shared.UserID {
	p, _ := handlers.PrincipalFrom(r.Context())
	if p == nil {
		return ""
	}
	return shared.UserID(p.UserID)
}

// handleActivityProgress handles GET /api/v1/activities/{id}/progress
func (s *Server) handleActivityProgress(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.ActivityProgress.Handle(r.Context(), query.ActivityProgressQuery{
		ActivityID: shared.ActivityID(r.PathValue("id")),
		UserID:     learner(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleLessonProgress handles GET /api/v1/lessons/{id}/progress
func (s *Server) handleLessonProgress(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.LessonProgress.Handle(r.Context(), query.LessonProgressQuery{
		LessonID: shared.LessonID(r.PathValue("id")),
		UserID:   learner(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleCourseProgress handles GET /api/v1/courses/{id}/progress
func (s *Server) handleCourseProgress(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.CourseProgress.Handle(r.Context(), query.CourseProgressQuery{
		CourseID: shared.CourseID(r.PathValue("id")),
		UserID:   learner(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleModuleAvailability handles GET /api/v1/courses/{id}/availability
func (s *Server) handleModuleAvailability(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.ModuleAvailability.Handle(r.Context(), query.ModuleAvailabilityQuery{
		CourseID: shared.CourseID(r.PathValue("id")),
		UserID:   learner(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

type startResponse struct {
	Progress   query.ProgressDTO `json:"progress"`
	Transition string            `json:"transition"`
}

// handleStartActivity handles POST /api/v1/activities/{id}/start
func (s *Server) handleStartActivity(w http.ResponseWriter, r *http.Request) {
	id := shared.ActivityID(r.PathValue("id"))
	res, err := s.deps.Commands.StartActivity.Handle(r.Context(), command.StartActivityCommand{
		ActivityID: id,
		UserID:     learner(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, startResponse{
		Progress:   query.ToProgressDTO(id.String(), res.Progress),
		Transition: string(res.Transition),
	})
}

type completeResponse struct {
	Progress        query.ProgressDTO `json:"progress"`
	Quiz            *quiz.Score       `json:"quiz,omitempty"`
	LessonPercent   int               `json:"lessonPercent"`
	LessonCompleted bool              `json:"lessonCompleted"`
}

// handleCompleteActivity handles POST /api/v1/activities/{id}/complete
func (s *Server) handleCompleteActivity(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := shared.ActivityID(r.PathValue("id"))
	res, err := s.deps.Commands.CompleteActivity.Handle(r.Context(), command.CompleteActivityCommand{
		ActivityID:       id,
		UserID:           learner(r),
		ResponseData:     req.ResponseData,
		TimeSpentSeconds: req.TimeSpentSeconds,
		Score:            req.Score,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, completeResponse{
		Progress:        query.ToProgressDTO(id.String(), res.Progress),
		Quiz:            res.Quiz,
		LessonPercent:   res.LessonPercent,
		LessonCompleted: res.LessonCompleted,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORING HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// author returns the authenticated author id.
func author(r *http.Request) shared.UserID {
	return learner(r)
}

// handleCreateActivity handles POST /api/v1/activities
func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	var req createActivityRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd, err := req.toCommand(author(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Commands.CreateActivity.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.ToActivityDTO(res.Activity))
}

type updateResponse struct {
	Activity query.ActivityDTO `json:"activity"`
	Moved    bool              `json:"moved"`
}

// handleUpdateActivity handles PATCH /api/v1/activities/{id}
func (s *Server) handleUpdateActivity(w http.ResponseWriter, r *http.Request) {
	var req updateActivityRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd, err := req.toCommand(shared.ActivityID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Commands.UpdateActivity.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updateResponse{Activity: query.ToActivityDTO(res.Activity), Moved: res.Moved})
}

type deleteResponse struct {
	ID        string `json:"id"`
	LessonID  string `json:"lessonId"`
	SlotIndex int    `json:"slotIndex"`
}

// handleDeleteActivity handles DELETE /api/v1/activities/{id}
func (s *Server) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Commands.DeleteActivity.Handle(r.Context(), command.DeleteActivityCommand{
		ID: shared.ActivityID(r.PathValue("id")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, deleteResponse{
		ID:        res.ID.String(),
		LessonID:  res.LessonID.String(),
		SlotIndex: res.SlotIndex,
	})
}

type reorderResponse struct {
	LessonID string                      `json:"lessonId"`
	Order    []command.ReorderedActivity `json:"order"`
}

// handleReorder handles POST /api/v1/lessons/{id}/reorder
func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Commands.ReorderActivities.Handle(r.Context(), command.ReorderActivitiesCommand{
		LessonID: shared.LessonID(r.PathValue("id")),
		IDs:      toActivityIDs(req.ActivityIDs),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, reorderResponse{LessonID: res.LessonID.String(), Order: res.Order})
}

type duplicateResponse struct {
	SourceID string            `json:"sourceId"`
	Activity query.ActivityDTO `json:"activity"`
}

// handleDuplicateActivity handles POST /api/v1/activities/{id}/duplicate
func (s *Server) handleDuplicateActivity(w http.ResponseWriter, r *http.Request) {
	var req duplicateRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Commands.DuplicateActivity.Handle(r.Context(), command.DuplicateActivityCommand{
		ID:             shared.ActivityID(r.PathValue("id")),
		TargetLessonID: shared.LessonID(req.TargetLessonID),
		CreatedBy:      author(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, duplicateResponse{
		SourceID: res.SourceID.String(),
		Activity: query.ToActivityDTO(res.Activity),
	})
}

// handleBulkStatus handles POST /api/v1/activities/bulk-status
func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := activity.ParseStatus(req.Status, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Commands.BulkUpdateStatus.Handle(r.Context(), command.BulkUpdateStatusCommand{
		IDs:    toActivityIDs(req.ActivityIDs),
		Status: status,
	})
	if err != nil {
		s.writeErrorWithData(w, r, err, res)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleSaveCourseDrip handles PUT /api/v1/courses/{id}/drip
func (s *Server) handleSaveCourseDrip(w http.ResponseWriter, r *http.Request) {
	var req courseDripRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd, err := req.toCommand(shared.CourseID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	course, err := s.deps.Commands.SaveCourseDrip.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, courseDripResponse{CourseID: course.ID.String(), DripConfig: course.Drip})
}

type courseDripResponse struct {
	CourseID string `json:"courseId"`
	curriculum.DripConfig
}

type moduleUnlockResponse struct {
	ModuleID    string     `json:"moduleId"`
	CourseID    string     `json:"courseId"`
	UnlockMode  string     `json:"unlockMode"`
	AvailableAt *time.Time `json:"availableAt,omitempty"`
}

// handleSaveModuleUnlock handles PUT /api/v1/modules/{id}/unlock
func (s *Server) handleSaveModuleUnlock(w http.ResponseWriter, r *http.Request) {
	var req moduleUnlockRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd, err := req.toCommand(shared.ModuleID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.deps.Commands.SaveModuleUnlock.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, moduleUnlockResponse{
		ModuleID:    m.ID.String(),
		CourseID:    m.CourseID.String(),
		UnlockMode:  m.UnlockMode.String(),
		AvailableAt: m.AvailableAt,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORING READ HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleValidateLesson handles GET /api/v1/lessons/{id}/validation
func (s *Server) handleValidateLesson(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Queries.Validate.Lesson(r.Context(), shared.LessonID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rep)
}

// handleValidateCourse handles GET /api/v1/courses/{id}/validation
func (s *Server) handleValidateCourse(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Queries.Validate.Course(r.Context(), shared.CourseID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rep)
}

// handleValidateAllPaths handles GET /api/v1/validation
func (s *Server) handleValidateAllPaths(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Queries.Validate.AllPaths(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, rep, &ResponseMeta{TotalCount: len(rep.Courses)})
}

// handleLatestReport handles GET /api/v1/validation/latest
func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Features.Enabled(config.FeatureSweepReport) {
		writeJSONError(w, r, http.StatusNotFound, "feature_disabled", "Sweep reports are disabled", nil)
		return
	}
	rep, err := s.deps.Queries.LatestReport.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rep)
}

// handleSlotCounts handles GET /api/v1/modules/{id}/slot-counts
func (s *Server) handleSlotCounts(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.SlotCounts.Handle(r.Context(), shared.ModuleID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleCourseTree handles GET /api/v1/courses/{id}/tree
func (s *Server) handleCourseTree(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.CourseTree.Handle(r.Context(), shared.CourseID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleCourseActivities handles GET /api/v1/courses/{id}/activities. The
// optional status parameter takes a comma separated list.
func (s *Server) handleCourseActivities(w http.ResponseWriter, r *http.Request) {
	q := query.CourseActivitiesQuery{CourseID: shared.CourseID(r.PathValue("id"))}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := activity.ParseStatus(part, "")
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			q.Statuses = append(q.Statuses, st)
		}
	}
	res, err := s.deps.Queries.CourseActivities.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{TotalCount: res.Total})
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSFER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// transferFormat reads ?format and refuses xlsx while the feature is off.
func (s *Server) transferFormat(r *http.Request) (transfer.Format, error) {
	f, err := transfer.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		return "", err
	}
	if f == transfer.FormatXLSX && !s.deps.Features.Enabled(config.FeatureXLSXTransfer) {
		return "", shared.NewDomainError("transfer", "Format", shared.ErrForbidden, "xlsx transfer is disabled")
	}
	return f, nil
}

// handleExportLesson handles GET /api/v1/lessons/{id}/export. The body is the
// bundle itself, not an envelope.
func (s *Server) handleExportLesson(w http.ResponseWriter, r *http.Request) {
	f, err := s.transferFormat(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lessonID := shared.LessonID(r.PathValue("id"))
	bundle, err := s.deps.Queries.ExportLesson.Handle(r.Context(), lessonID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := transfer.Encode(&buf, f, bundle); err != nil {
		s.writeError(w, r, fmt.Errorf("export lesson %s: %w", lessonID, err))
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.FileName(lessonID.String())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleImportLesson handles POST /api/v1/lessons/{id}/import. ?replace=true
// overwrites occupied mandatory slots.
func (s *Server) handleImportLesson(w http.ResponseWriter, r *http.Request) {
	f, err := s.transferFormat(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bundle, err := transfer.Decode(r.Body, f)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = shared.WrapError("http", "Import", shared.ErrValueOutOfRange, "upload too large", err)
		}
		s.writeError(w, r, err)
		return
	}

	lessonID := shared.LessonID(r.PathValue("id"))
	if bundle.LessonID != "" && bundle.LessonID != lessonID.String() {
		logger.FromContext(r.Context()).Info("importing bundle into another lesson",
			logger.LessonID(lessonID.String()),
			logger.String("source_lesson_id", bundle.LessonID),
		)
	}

	res, err := s.deps.Commands.ImportLesson.Handle(r.Context(), command.ImportLessonCommand{
		LessonID:  lessonID,
		Items:     bundle.Activities,
		Replace:   getQueryParamBool(r, "replace"),
		CreatedBy: author(r),
	})
	if err != nil {
		s.writeErrorWithData(w, r, err, res)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
