package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// GateError rejects a publish attempt. It carries the blocking issues so the
// caller can render them next to the error.
type GateError struct {
	ActivityID shared.ActivityID
	Issues     []Issue
}

// NewGateError returns nil when issues is empty.
func NewGateError(id shared.ActivityID, issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return &GateError{ActivityID: id, Issues: issues}
}

func (e *GateError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("activity %s cannot be published: %s", e.ActivityID, e.Issues[0].Message)
	}
	return fmt.Sprintf("activity %s cannot be published: %d issues, first: %s", e.ActivityID, len(e.Issues), e.Issues[0].Message)
}

// Kind maps the first issue to the matching domain error kind.
func (e *GateError) Kind() error {
	if len(e.Issues) == 0 {
		return shared.ErrValidation
	}
	switch e.Issues[0].Code {
	case CodeSlotMismatch:
		return shared.ErrSlotMismatch
	case CodeSlotOccupied:
		return shared.ErrSlotOccupied
	case CodeQuizMalformed:
		return shared.ErrQuizMalformed
	case CodeSlotMissing, CodeSlotNotPublished, CodeBilingualMissing,
		CodeMediaMissing, CodeExtraDraft, CodeStructureMismatch:
		return shared.ErrValidation
	}
	return shared.ErrValidation
}

// Is makes errors.Is match the kind of the first issue.
func (e *GateError) Is(target error) bool {
	return errors.Is(e.Kind(), target)
}

// AsGateError extracts a *GateError from err.
func AsGateError(err error) (*GateError, bool) {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// ReportStore keeps the most recent integrity sweep report.
type ReportStore interface {
	SaveLatest(ctx context.Context, rep *SweepReport) error
	Latest(ctx context.Context) (*SweepReport, error)
}

// ErrNoReport is returned by ReportStore.Latest before the first sweep.
var ErrNoReport = shared.NewDomainError("validation", "Latest", shared.ErrNotFound, "no sweep report recorded yet")
