package query

import (
	"context"

	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SLOT TEMPLATE QUERY
// Returns the seven mandatory slots every lesson is built on.
// ══════════════════════════════════════════════════════════════════════════════

// SlotTemplateResult is the template in wire form.
type SlotTemplateResult struct {
	Version      string       `json:"version"`
	TotalMinutes int          `json:"totalMinutes"`
	Entries      []slot.Entry `json:"entries"`
}

// GetSlotTemplateHandler handles the slot template query.
type GetSlotTemplateHandler struct {
	tpl slot.Template
}

// NewGetSlotTemplateHandler creates a new GetSlotTemplateHandler.
func NewGetSlotTemplateHandler(d Deps) *GetSlotTemplateHandler {
	return &GetSlotTemplateHandler{tpl: d.withDefaults().Rules.Template}
}

// Handle returns the template. It never fails.
func (h *GetSlotTemplateHandler) Handle(_ context.Context) *SlotTemplateResult {
	return &SlotTemplateResult{
		Version:      h.tpl.Version(),
		TotalMinutes: h.tpl.TotalMinutes(),
		Entries:      h.tpl.Entries(),
	}
}
