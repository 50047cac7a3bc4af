package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/application/command"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/transfer"
	"github.com/lingua-coach/curriculum-engine/internal/interface/http/handlers"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// errorMapping is the HTTP rendering of one error class.
type errorMapping struct {
	status int
	code   string
}

// classify maps an error to a status and a stable error code. Specific kinds
// are tested before the broad predicates they also satisfy.
func classify(err error) errorMapping {
	var reqErr *RequestError
	switch {
	case errors.Is(err, handlers.ErrMissingToken),
		errors.Is(err, handlers.ErrInvalidToken),
		errors.Is(err, shared.ErrUnauthorized):
		return errorMapping{http.StatusUnauthorized, "unauthorized"}
	case errors.Is(err, handlers.ErrNotAuthor), errors.Is(err, shared.ErrForbidden):
		return errorMapping{http.StatusForbidden, "forbidden"}
	case errors.As(err, &reqErr):
		return errorMapping{http.StatusUnprocessableEntity, "invalid_request"}
	case shared.IsNotFound(err):
		return errorMapping{http.StatusNotFound, "not_found"}
	case errors.Is(err, shared.ErrSlotMismatch):
		return errorMapping{http.StatusUnprocessableEntity, "slot_mismatch"}
	case errors.Is(err, shared.ErrQuizMalformed):
		return errorMapping{http.StatusUnprocessableEntity, "quiz_malformed"}
	case errors.Is(err, shared.ErrConflictingUnlock):
		return errorMapping{http.StatusUnprocessableEntity, "conflicting_unlock"}
	case errors.Is(err, command.ErrBulkRejected), errors.Is(err, command.ErrImportRejected):
		return errorMapping{http.StatusUnprocessableEntity, "items_rejected"}
	case errors.Is(err, shared.ErrSlotOccupied):
		return errorMapping{http.StatusConflict, "slot_occupied"}
	case errors.Is(err, shared.ErrHasProgress):
		return errorMapping{http.StatusConflict, "has_progress"}
	case shared.IsLocked(err):
		return errorMapping{http.StatusLocked, "locked"}
	case errors.Is(err, shared.ErrValueOutOfRange) && isBodyTooLarge(err):
		return errorMapping{http.StatusRequestEntityTooLarge, "payload_too_large"}
	case shared.IsConflict(err):
		return errorMapping{http.StatusConflict, "conflict"}
	case shared.IsValidation(err):
		return errorMapping{http.StatusUnprocessableEntity, "validation_failed"}
	case errors.Is(err, shared.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return errorMapping{http.StatusGatewayTimeout, "timeout"}
	case shared.IsRetryable(err):
		return errorMapping{http.StatusServiceUnavailable, "unavailable"}
	default:
		return errorMapping{http.StatusInternalServerError, "internal_error"}
	}
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// errorMessage picks the client-facing message. Internal errors are never
// echoed back.
func errorMessage(err error, m errorMapping) string {
	if m.status >= http.StatusInternalServerError {
		return http.StatusText(m.status)
	}
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

// errorDetails returns structured details for request and row errors.
func errorDetails(err error) any {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Fields
	}
	var rowErr *transfer.RowError
	if errors.As(err, &rowErr) {
		return map[string]any{"row": rowErr.Row, "column": rowErr.Column}
	}
	var de *shared.DomainError
	if errors.As(err, &de) && de.Err != nil && de.Kind != nil {
		return de.Err.Error()
	}
	return nil
}

// writeError renders err in the response envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWithData(w, r, err, nil)
}

// writeErrorWithData renders err together with data, the per-item report of a
// rejected bulk operation.
func (s *Server) writeErrorWithData(w http.ResponseWriter, r *http.Request, err error, data any) {
	m := classify(err)
	l := logger.FromContext(r.Context())
	if m.status >= http.StatusInternalServerError {
		l.Error("request failed", logger.Err(err), logger.String("path", r.URL.Path))
	} else {
		l.Debug("request rejected", logger.Err(err), logger.String("code", m.code))
	}

	if data != nil && isNilPointer(data) {
		data = nil
	}
	writeEnvelope(w, m.status, JSONResponse{
		Success: false,
		Data:    data,
		Error: &APIError{
			Code:    m.code,
			Message: errorMessage(err, m),
			Details: errorDetails(err),
		},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: getRequestID(r.Context()),
	})
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *command.BulkStatusResult:
		return p == nil
	case *command.ImportResult:
		return p == nil
	}
	return false
}
