package query

import (
	"context"
	"fmt"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/application/access"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/drip"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS QUERIES
// Learner progress is a left join of published activities and stored records:
// a missing record reads as not_started. Percentages are computed over
// published activities only.
// ══════════════════════════════════════════════════════════════════════════════

// ─────────────────────────────────────────────────────────────────────────────
// getWithProgress
// ─────────────────────────────────────────────────────────────────────────────

// ActivityProgressQuery identifies a learner and an activity.
type ActivityProgressQuery struct {
	ActivityID shared.ActivityID
	UserID     shared.UserID
}

// ActivityProgressResult is an activity with the learner's record.
type ActivityProgressResult struct {
	Activity ActivityDTO `json:"activity"`
	Progress ProgressDTO `json:"progress"`
}

// GetActivityProgressHandler handles getWithProgress.
type GetActivityProgressHandler struct {
	deps Deps
}

// NewGetActivityProgressHandler creates a new GetActivityProgressHandler.
func NewGetActivityProgressHandler(d Deps) *GetActivityProgressHandler {
	return &GetActivityProgressHandler{deps: d.withDefaults()}
}

// Handle executes the query.
func (h *GetActivityProgressHandler) Handle(ctx context.Context, q ActivityProgressQuery) (*ActivityProgressResult, error) {
	if !q.ActivityID.IsValid() || !q.UserID.IsValid() {
		return nil, shared.NewDomainError("progress", "Read", shared.ErrInvalidID, "activity and learner ids are required")
	}

	var (
		a   *activity.Activity
		rec *progress.Progress
	)
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		var err error
		if a, err = repos.Activities().GetByID(ctx, q.ActivityID); err != nil {
			return err
		}
		if !a.IsPublished() {
			return shared.ErrActivityNotFound
		}
		rec, err = repos.Progress().Get(ctx, a.ID, q.UserID)
		if shared.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ActivityProgressResult{
		Activity: Learner.presentOne(a),
		Progress: ToProgressDTO(a.ID.String(), rec),
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// getLessonProgress
// ─────────────────────────────────────────────────────────────────────────────

// LessonProgressQuery identifies a learner and a lesson.
type LessonProgressQuery struct {
	LessonID shared.LessonID
	UserID   shared.UserID
}

// ActivityStatus is one activity and the learner's record on it.
type ActivityStatus struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	TitleFr      string      `json:"titleFr,omitempty"`
	SlotIndex    int         `json:"slotIndex"`
	SlotType     string      `json:"slotType"`
	ActivityType string      `json:"activityType"`
	IsMandatory  bool        `json:"isMandatory"`
	Progress     ProgressDTO `json:"progress"`
}

// LessonProgressResult is the learner's state on one lesson.
type LessonProgressResult struct {
	LessonID   string           `json:"lessonId"`
	Title      string           `json:"title"`
	Status     string           `json:"status"`
	Percent    int              `json:"percent"`
	Tally      progress.Tally   `json:"tally"`
	Activities []ActivityStatus `json:"activities"`
}

// GetLessonProgressHandler handles getLessonProgress.
type GetLessonProgressHandler struct {
	deps Deps
}

// NewGetLessonProgressHandler creates a new GetLessonProgressHandler.
func NewGetLessonProgressHandler(d Deps) *GetLessonProgressHandler {
	return &GetLessonProgressHandler{deps: d.withDefaults()}
}

// Handle executes the query.
func (h *GetLessonProgressHandler) Handle(ctx context.Context, q LessonProgressQuery) (*LessonProgressResult, error) {
	if !q.LessonID.IsValid() || !q.UserID.IsValid() {
		return nil, shared.NewDomainError("progress", "Read", shared.ErrInvalidID, "lesson and learner ids are required")
	}

	var (
		lesson  *curriculum.Lesson
		list    []*activity.Activity
		records []*progress.Progress
	)
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		var err error
		if lesson, err = repos.Curriculum().GetLesson(ctx, q.LessonID); err != nil {
			return err
		}
		if list, err = repos.Activities().ListByLesson(ctx, q.LessonID, activity.PublishedOnly); err != nil {
			return fmt.Errorf("get_lesson_progress: %w", err)
		}
		records, err = repos.Progress().ListByLesson(ctx, q.LessonID, q.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := lessonProgress(lesson, list, progress.NewIndex(records))
	return &res, nil
}

func lessonProgress(l *curriculum.Lesson, list []*activity.Activity, idx progress.Index) LessonProgressResult {
	res := LessonProgressResult{LessonID: l.ID.String(), Title: l.Title, Activities: make([]ActivityStatus, 0, len(list))}
	for _, a := range list {
		res.Tally.Add(idx.Status(a.ID))
		res.Activities = append(res.Activities, ActivityStatus{
			ID:           a.ID.String(),
			Title:        a.Title,
			TitleFr:      a.TitleFr,
			SlotIndex:    a.SlotIndex,
			SlotType:     a.SlotType.String(),
			ActivityType: a.ActivityType.String(),
			IsMandatory:  a.IsMandatory,
			Progress:     ToProgressDTO(a.ID.String(), idx[a.ID]),
		})
	}
	res.Percent = res.Tally.Percent()
	res.Status = res.Tally.Status().String()
	return res
}

// ─────────────────────────────────────────────────────────────────────────────
// getCourseProgress (cascade)
// ─────────────────────────────────────────────────────────────────────────────

// CourseProgressQuery identifies a learner and a course.
type CourseProgressQuery struct {
	CourseID shared.CourseID
	UserID   shared.UserID
}

// ModuleProgress is the learner's state on one module.
type ModuleProgress struct {
	ModuleID    string                 `json:"moduleId"`
	Title       string                 `json:"title"`
	Status      string                 `json:"status"`
	Percent     int                    `json:"percent"`
	Tally       progress.Tally         `json:"tally"`
	Unlocked    bool                   `json:"unlocked"`
	Reason      drip.Reason            `json:"reason,omitempty"`
	AvailableAt *time.Time             `json:"availableAt,omitempty"`
	Lessons     []LessonProgressResult `json:"lessons"`
}

// CourseProgressResult is the cascade course → modules → lessons → activities.
type CourseProgressResult struct {
	CourseID string           `json:"courseId"`
	Title    string           `json:"title"`
	Enrolled bool             `json:"enrolled"`
	Status   string           `json:"status"`
	Percent  int              `json:"percent"`
	Tally    progress.Tally   `json:"tally"`
	Modules  []ModuleProgress `json:"modules"`
}

// GetCourseProgressHandler handles the course progress cascade.
type GetCourseProgressHandler struct {
	deps Deps
}

// NewGetCourseProgressHandler creates a new GetCourseProgressHandler.
func NewGetCourseProgressHandler(d Deps) *GetCourseProgressHandler {
	return &GetCourseProgressHandler{deps: d.withDefaults()}
}

// Handle executes the query in one snapshot.
func (h *GetCourseProgressHandler) Handle(ctx context.Context, q CourseProgressQuery) (*CourseProgressResult, error) {
	if !q.CourseID.IsValid() || !q.UserID.IsValid() {
		return nil, shared.NewDomainError("progress", "Read", shared.ErrInvalidID, "course and learner ids are required")
	}

	var (
		snap    *access.Snapshot
		lessons []*curriculum.Lesson
	)
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		var err error
		if snap, err = access.Load(ctx, repos, q.CourseID, q.UserID, h.deps.Clock.Now()); err != nil {
			return err
		}
		lessons, err = repos.Curriculum().ListLessonsByCourse(ctx, q.CourseID)
		return err
	})
	if err != nil {
		return nil, err
	}

	byLesson := make(map[shared.LessonID][]*activity.Activity)
	for _, a := range snap.Activities {
		byLesson[a.LessonID] = append(byLesson[a.LessonID], a)
	}
	lessonsByModule := make(map[shared.ModuleID][]*curriculum.Lesson)
	for _, l := range lessons {
		lessonsByModule[l.ModuleID] = append(lessonsByModule[l.ModuleID], l)
	}

	res := &CourseProgressResult{
		CourseID: snap.Course.ID.String(),
		Title:    snap.Course.Title,
		Enrolled: snap.Enrolled(),
		Modules:  make([]ModuleProgress, 0, len(snap.Modules)),
	}
	for _, m := range snap.Modules {
		mp := ModuleProgress{ModuleID: m.ID.String(), Title: m.Title, Lessons: []LessonProgressResult{}}
		if av, ok := drip.Find(snap.Availability, m.ID); ok {
			mp.Unlocked, mp.Reason, mp.AvailableAt = av.Unlocked, av.Reason, av.AvailableAt
		}
		for _, l := range lessonsByModule[m.ID] {
			lp := lessonProgress(l, byLesson[l.ID], snap.Progress)
			mp.Tally.Merge(lp.Tally)
			mp.Lessons = append(mp.Lessons, lp)
		}
		mp.Percent = mp.Tally.Percent()
		mp.Status = mp.Tally.Status().String()
		res.Tally.Merge(mp.Tally)
		res.Modules = append(res.Modules, mp)
	}
	res.Percent = res.Tally.Percent()
	res.Status = res.Tally.Status().String()
	return res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// getUserActivityProgress
// ─────────────────────────────────────────────────────────────────────────────

// UserProgressQuery lists a learner's records, optionally for one course.
type UserProgressQuery struct {
	UserID   shared.UserID
	CourseID shared.CourseID
}

// UserProgressEntry is one stored record with its placement.
type UserProgressEntry struct {
	ProgressDTO
	LessonID string `json:"lessonId"`
	CourseID string `json:"courseId"`
}

// UserProgressResult lists a learner's records.
type UserProgressResult struct {
	UserID  string              `json:"userId"`
	Total   int                 `json:"total"`
	Tally   progress.Tally      `json:"tally"`
	Records []UserProgressEntry `json:"records"`
}

// GetUserProgressHandler handles getUserActivityProgress.
type GetUserProgressHandler struct {
	deps Deps
}

// NewGetUserProgressHandler creates a new GetUserProgressHandler.
func NewGetUserProgressHandler(d Deps) *GetUserProgressHandler {
	return &GetUserProgressHandler{deps: d.withDefaults()}
}

// Handle executes the query.
func (h *GetUserProgressHandler) Handle(ctx context.Context, q UserProgressQuery) (*UserProgressResult, error) {
	if !q.UserID.IsValid() {
		return nil, shared.NewDomainError("progress", "Read", shared.ErrInvalidID, "learner id is required")
	}

	var (
		records []*progress.Progress
		err     error
	)
	if q.CourseID.IsValid() {
		records, err = h.deps.Store.Progress().ListByCourse(ctx, q.CourseID, q.UserID)
	} else {
		records, err = h.deps.Store.Progress().ListByUser(ctx, q.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("get_user_progress: %w", err)
	}

	res := &UserProgressResult{UserID: q.UserID.String(), Total: len(records), Records: make([]UserProgressEntry, 0, len(records))}
	for _, r := range records {
		res.Tally.Add(r.Status)
		res.Records = append(res.Records, UserProgressEntry{
			ProgressDTO: ToProgressDTO(r.ActivityID.String(), r),
			LessonID:    r.LessonID.String(),
			CourseID:    r.CourseID.String(),
		})
	}
	return res, nil
}
