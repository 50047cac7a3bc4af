package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/application/access"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/quiz"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE ACTIVITY COMMAND
// Records a learner submission. Quizzes are graded from the document embedded
// in the activity; other kinds use the score supplied by the caller. A wrong
// answer is a failed record, not an error.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteActivityCommand contains the learner submission.
type CompleteActivityCommand struct {
	ActivityID       shared.ActivityID
	UserID           shared.UserID
	ResponseData     json.RawMessage
	TimeSpentSeconds int

	// Score is used for non-quiz activities graded elsewhere.
	Score *float64
}

// Validate validates the command.
func (c CompleteActivityCommand) Validate() error {
	if !c.ActivityID.IsValid() {
		return shared.NewDomainError("progress", "Complete", shared.ErrInvalidID, "activity id is required")
	}
	if !c.UserID.IsValid() {
		return shared.NewDomainError("progress", "Complete", shared.ErrUnauthorized, "learner id is required")
	}
	if c.TimeSpentSeconds < 0 {
		return shared.NewDomainError("progress", "Complete", shared.ErrValueOutOfRange, "timeSpentSeconds cannot be negative")
	}
	if c.Score != nil && (*c.Score < 0 || *c.Score > 100) {
		return shared.NewDomainError("progress", "Complete", shared.ErrValueOutOfRange, "score must be between 0 and 100")
	}
	return nil
}

// CompleteActivityResult contains the stored record and lesson completion.
type CompleteActivityResult struct {
	Progress *progress.Progress

	// Quiz is set for quiz activities.
	Quiz *quiz.Score

	LessonPercent   int
	LessonCompleted bool
}

// CompleteActivityHandler handles CompleteActivityCommand.
type CompleteActivityHandler struct {
	deps Deps
}

// NewCompleteActivityHandler creates a new CompleteActivityHandler.
func NewCompleteActivityHandler(d Deps) *CompleteActivityHandler {
	return &CompleteActivityHandler{deps: d.withDefaults()}
}

// Handle executes the complete command and publishes completion events after
// commit.
func (h *CompleteActivityHandler) Handle(ctx context.Context, cmd CompleteActivityCommand) (*CompleteActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.deps.Clock.Now()
	result := &CompleteActivityResult{}
	var a *activity.Activity

	err := h.deps.writeTx(ctx, "complete_activity", func(repos uow.Repositories) error {
		var err error
		a, err = repos.Activities().GetByID(ctx, cmd.ActivityID)
		if err != nil {
			return err
		}
		snap, err := access.Load(ctx, repos, a.CourseID, cmd.UserID, now)
		if err != nil {
			return err
		}
		if err := snap.Check(a); err != nil {
			return err
		}

		lessonBefore := lessonTally(snap, a.LessonID)

		out, err := progress.Complete(snap.Progress[a.ID], subjectOf(a), cmd.UserID, progress.Submission{
			ResponseData:     cmd.ResponseData,
			TimeSpentSeconds: cmd.TimeSpentSeconds,
			Score:            cmd.Score,
		}, now)
		if err != nil {
			return err
		}
		if err := repos.Progress().Upsert(ctx, out.Record); err != nil {
			return fmt.Errorf("complete_activity: %w", err)
		}

		snap.Progress[a.ID] = out.Record
		lessonAfter := lessonTally(snap, a.LessonID)

		result.Progress = out.Record
		result.Quiz = out.Quiz
		result.LessonPercent = lessonAfter.Percent()
		result.LessonCompleted = lessonAfter.Status() == progress.StatusCompleted &&
			lessonBefore.Status() != progress.StatusCompleted
		return nil
	})
	if err != nil {
		h.deps.log(ctx).Warn("complete activity rejected",
			logger.ActivityID(cmd.ActivityID.String()),
			logger.UserID(cmd.UserID.String()),
			logger.Err(err),
		)
		return nil, err
	}

	rec := result.Progress
	events := []shared.Event{shared.NewActivityCompletedEvent(
		cmd.UserID, a.ID, a.LessonID, a.CourseID, rec.Status.String(), rec.Score, rec.Attempts, result.LessonPercent, now,
	)}
	if result.LessonCompleted {
		events = append(events, shared.NewLessonCompletedEvent(cmd.UserID, a.LessonID, a.CourseID, now))
	}
	h.deps.publish(ctx, events...)

	fields := []logger.Field{
		logger.ActivityID(a.ID.String()),
		logger.UserID(cmd.UserID.String()),
		logger.String("status", rec.Status.String()),
		logger.Int("lesson_percent", result.LessonPercent),
	}
	if rec.Score != nil {
		fields = append(fields, logger.Float64("score", *rec.Score))
	}
	h.deps.log(ctx).Info("activity completed", fields...)
	return result, nil
}

// lessonTally counts the learner's statuses over the published activities of
// one lesson.
func lessonTally(snap *access.Snapshot, lessonID shared.LessonID) progress.Tally {
	var t progress.Tally
	for _, a := range snap.Activities {
		if a.LessonID == lessonID {
			t.Add(snap.Progress.Status(a.ID))
		}
	}
	return t
}

func subjectOf(a *activity.Activity) progress.Subject {
	return progress.Subject{
		ActivityID:   a.ID,
		LessonID:     a.LessonID,
		CourseID:     a.CourseID,
		ActivityType: a.ActivityType,
		Mandatory:    a.IsMandatory,
		PassingScore: a.PassingScore,
		Content:      a.Content,
	}
}
