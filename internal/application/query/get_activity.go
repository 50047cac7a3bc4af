package query

import (
	"context"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/quiz"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ACTIVITY QUERY
// Returns one activity with previous/next navigation inside its lesson and,
// for quizzes, the parsed document.
// ══════════════════════════════════════════════════════════════════════════════

// GetActivityQuery identifies the activity.
type GetActivityQuery struct {
	ID       shared.ActivityID
	Audience Audience
}

// Validate validates the query.
func (q GetActivityQuery) Validate() error {
	if !q.ID.IsValid() {
		return shared.NewDomainError("activity", "Read", shared.ErrInvalidID, "activity id is required")
	}
	return nil
}

// NavLink points at a sibling activity.
type NavLink struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	SlotIndex int    `json:"slotIndex"`
}

// ActivityResult is an activity with navigation.
type ActivityResult struct {
	Activity ActivityDTO `json:"activity"`
	Previous *NavLink    `json:"previous"`
	Next     *NavLink    `json:"next"`

	// Quiz is the parsed document; learners get it without answer keys.
	Quiz *quiz.Document `json:"quiz,omitempty"`

	// QuizError explains why an author's quiz does not parse.
	QuizError string `json:"quizError,omitempty"`
}

// GetActivityHandler handles getById.
type GetActivityHandler struct {
	deps Deps
}

// NewGetActivityHandler creates a new GetActivityHandler.
func NewGetActivityHandler(d Deps) *GetActivityHandler {
	return &GetActivityHandler{deps: d.withDefaults()}
}

// Handle executes the query. Unpublished activities are not found for learners.
func (h *GetActivityHandler) Handle(ctx context.Context, q GetActivityQuery) (*ActivityResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		a        *activity.Activity
		siblings []*activity.Activity
	)
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		var err error
		if a, err = repos.Activities().GetByID(ctx, q.ID); err != nil {
			return err
		}
		if !q.Audience.Filter().Allows(a.Status) {
			return shared.ErrActivityNotFound
		}
		siblings, err = repos.Activities().ListByLesson(ctx, a.LessonID, q.Audience.Filter())
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &ActivityResult{Activity: q.Audience.presentOne(a)}
	for i, s := range siblings {
		if s.ID != a.ID {
			continue
		}
		if i > 0 {
			res.Previous = navLink(siblings[i-1])
		}
		if i+1 < len(siblings) {
			res.Next = navLink(siblings[i+1])
		}
		break
	}

	if a.IsQuiz() {
		doc, err := quiz.Parse(a.Content)
		switch {
		case err != nil && q.Audience == Author:
			res.QuizError = err.Error()
		case err != nil:
		case q.Audience == Learner:
			res.Quiz = doc.Public()
		default:
			res.Quiz = doc
		}
	}
	return res, nil
}

func navLink(a *activity.Activity) *NavLink {
	return &NavLink{ID: a.ID.String(), Title: a.Title, SlotIndex: a.SlotIndex}
}
