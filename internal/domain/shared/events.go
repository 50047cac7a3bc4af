package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Dashboards and other collaborators subscribe to these
// instead of polling progress tables.
const (
	// Progress events
	EventActivityStarted   EventType = "progress.activity_started"
	EventActivityCompleted EventType = "progress.activity_completed"
	EventLessonCompleted   EventType = "progress.lesson_completed"

	// Content events
	EventActivityChanged EventType = "content.activity_changed"
	EventStatusChanged   EventType = "content.status_changed"
	EventLessonImported  EventType = "content.lesson_imported"
	EventDripChanged     EventType = "content.drip_changed"

	// System events
	EventSweepCompleted EventType = "system.sweep_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ActivityStartedEvent is emitted when startActivity creates a record or
// moves one back to in_progress.
type ActivityStartedEvent struct {
	BaseEvent
	UserID     UserID     `json:"user_id"`
	ActivityID ActivityID `json:"activity_id"`
	LessonID   LessonID   `json:"lesson_id"`
	CourseID   CourseID   `json:"course_id"`
	Transition string     `json:"transition"`
	Attempts   int        `json:"attempts"`
}

// Payload implements Event interface.
func (e ActivityStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID.String(),
		"activity_id": e.ActivityID.String(),
		"lesson_id":   e.LessonID.String(),
		"course_id":   e.CourseID.String(),
		"transition":  e.Transition,
		"attempts":    e.Attempts,
	}
}

// NewActivityStartedEvent creates a new ActivityStartedEvent.
func NewActivityStartedEvent(userID UserID, activityID ActivityID, lessonID LessonID, courseID CourseID, transition string, attempts int, at time.Time) ActivityStartedEvent {
	return ActivityStartedEvent{
		BaseEvent:  NewBaseEvent(EventActivityStarted, activityID.String(), at),
		UserID:     userID,
		ActivityID: activityID,
		LessonID:   lessonID,
		CourseID:   courseID,
		Transition: transition,
		Attempts:   attempts,
	}
}

// ActivityCompletedEvent is emitted after every completeActivity call, whether
// the outcome is completed or failed.
type ActivityCompletedEvent struct {
	BaseEvent
	UserID        UserID     `json:"user_id"`
	LessonID      LessonID   `json:"lesson_id"`
	CourseID      CourseID   `json:"course_id"`
	Status        string     `json:"status"`
	Score         *float64   `json:"score,omitempty"`
	Attempts      int        `json:"attempts"`
	LessonPercent int        `json:"lesson_percent"`
	ActivityID    ActivityID `json:"activity_id"`
}

// Payload implements Event interface.
func (e ActivityCompletedEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"user_id":        e.UserID.String(),
		"activity_id":    e.ActivityID.String(),
		"lesson_id":      e.LessonID.String(),
		"course_id":      e.CourseID.String(),
		"status":         e.Status,
		"attempts":       e.Attempts,
		"lesson_percent": e.LessonPercent,
	}
	if e.Score != nil {
		p["score"] = *e.Score
	}
	return p
}

// NewActivityCompletedEvent creates a new ActivityCompletedEvent.
func NewActivityCompletedEvent(userID UserID, activityID ActivityID, lessonID LessonID, courseID CourseID, status string, score *float64, attempts, lessonPercent int, at time.Time) ActivityCompletedEvent {
	return ActivityCompletedEvent{
		BaseEvent:     NewBaseEvent(EventActivityCompleted, activityID.String(), at),
		UserID:        userID,
		ActivityID:    activityID,
		LessonID:      lessonID,
		CourseID:      courseID,
		Status:        status,
		Score:         score,
		Attempts:      attempts,
		LessonPercent: lessonPercent,
	}
}

// LessonCompletedEvent is emitted when the last published activity of a lesson
// reaches completed for a learner.
type LessonCompletedEvent struct {
	BaseEvent
	UserID   UserID   `json:"user_id"`
	CourseID CourseID `json:"course_id"`
}

// Payload implements Event interface.
func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID.String(),
		"lesson_id": e.AggregateId,
		"course_id": e.CourseID.String(),
	}
}

// NewLessonCompletedEvent creates a new LessonCompletedEvent.
func NewLessonCompletedEvent(userID UserID, lessonID LessonID, courseID CourseID, at time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent: NewBaseEvent(EventLessonCompleted, lessonID.String(), at),
		UserID:    userID,
		CourseID:  courseID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Content Events
// ═══════════════════════════════════════════════════════════════════════════

// ActivityChangedEvent is emitted after an author creates, updates, deletes,
// duplicates or reorders activities of a lesson.
type ActivityChangedEvent struct {
	BaseEvent
	LessonID LessonID `json:"lesson_id"`
	CourseID CourseID `json:"course_id"`
	Action   string   `json:"action"`
}

// Payload implements Event interface.
func (e ActivityChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"activity_id": e.AggregateId,
		"lesson_id":   e.LessonID.String(),
		"course_id":   e.CourseID.String(),
		"action":      e.Action,
	}
}

// NewActivityChangedEvent creates a new ActivityChangedEvent. For reorders the
// aggregate is the lesson.
func NewActivityChangedEvent(aggregateID string, lessonID LessonID, courseID CourseID, action string, at time.Time) ActivityChangedEvent {
	return ActivityChangedEvent{
		BaseEvent: NewBaseEvent(EventActivityChanged, aggregateID, at),
		LessonID:  lessonID,
		CourseID:  courseID,
		Action:    action,
	}
}

// StatusChangedEvent is emitted once per committed bulk status change.
type StatusChangedEvent struct {
	BaseEvent
	ActivityIDs []ActivityID `json:"activity_ids"`
	Status      string       `json:"status"`
}

// Payload implements Event interface.
func (e StatusChangedEvent) Payload() map[string]interface{} {
	ids := make([]string, len(e.ActivityIDs))
	for i, id := range e.ActivityIDs {
		ids[i] = id.String()
	}
	return map[string]interface{}{
		"activity_ids": ids,
		"status":       e.Status,
	}
}

// NewStatusChangedEvent creates a new StatusChangedEvent keyed by the first lesson touched.
func NewStatusChangedEvent(lessonID LessonID, ids []ActivityID, status string, at time.Time) StatusChangedEvent {
	return StatusChangedEvent{
		BaseEvent:   NewBaseEvent(EventStatusChanged, lessonID.String(), at),
		ActivityIDs: ids,
		Status:      status,
	}
}

// LessonImportedEvent is emitted after a transfer bundle is committed into a lesson.
type LessonImportedEvent struct {
	BaseEvent
	Created int `json:"created"`
}

// Payload implements Event interface.
func (e LessonImportedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id": e.AggregateId,
		"created":   e.Created,
	}
}

// NewLessonImportedEvent creates a new LessonImportedEvent.
func NewLessonImportedEvent(lessonID LessonID, created int, at time.Time) LessonImportedEvent {
	return LessonImportedEvent{
		BaseEvent: NewBaseEvent(EventLessonImported, lessonID.String(), at),
		Created:   created,
	}
}

// DripChangedEvent is emitted when a course drip configuration or a module
// unlock setting is saved. The aggregate is the course.
type DripChangedEvent struct {
	BaseEvent
	ModuleID ModuleID `json:"module_id,omitempty"`
}

// Payload implements Event interface.
func (e DripChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"course_id": e.AggregateId,
		"module_id": e.ModuleID.String(),
	}
}

// NewDripChangedEvent creates a new DripChangedEvent. moduleID is empty for
// course-level changes.
func NewDripChangedEvent(courseID CourseID, moduleID ModuleID, at time.Time) DripChangedEvent {
	return DripChangedEvent{
		BaseEvent: NewBaseEvent(EventDripChanged, courseID.String(), at),
		ModuleID:  moduleID,
	}
}

// SweepCompletedEvent is emitted by the worker after an integrity sweep.
type SweepCompletedEvent struct {
	BaseEvent
	OK            bool `json:"ok"`
	Courses       int  `json:"courses"`
	FailedCourses int  `json:"failed_courses"`
}

// Payload implements Event interface.
func (e SweepCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"ok":             e.OK,
		"courses":        e.Courses,
		"failed_courses": e.FailedCourses,
	}
}

// NewSweepCompletedEvent creates a new SweepCompletedEvent.
func NewSweepCompletedEvent(ok bool, courses, failed int, at time.Time) SweepCompletedEvent {
	return SweepCompletedEvent{
		BaseEvent:     NewBaseEvent(EventSweepCompleted, "sweep", at),
		OK:            ok,
		Courses:       courses,
		FailedCourses: failed,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
