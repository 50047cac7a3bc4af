package query

import (
	"context"

	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
)

// GetLatestReportHandler returns the most recent integrity sweep report.
type GetLatestReportHandler struct {
	reports validation.ReportStore
}

// NewGetLatestReportHandler creates a new GetLatestReportHandler.
func NewGetLatestReportHandler(d Deps) *GetLatestReportHandler {
	return &GetLatestReportHandler{reports: d.Reports}
}

// Handle returns validation.ErrNoReport when no sweep ran or no report store
// is configured.
func (h *GetLatestReportHandler) Handle(ctx context.Context) (*validation.SweepReport, error) {
	if h.reports == nil {
		return nil, validation.ErrNoReport
	}
	rep, err := h.reports.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, validation.ErrNoReport
	}
	return rep, nil
}
