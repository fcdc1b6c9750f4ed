package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"companion/internal/catalog"
	"companion/internal/core"
	"companion/internal/entitlement"
	"companion/internal/types"
	"companion/internal/usage"
)

// QuotaReader reports a subject's remaining allowance.
type QuotaReader interface {
	Today() usage.Day
	RemainingMessages(ctx context.Context, subject *types.Subject, persona types.Persona, day usage.Day) (entitlement.Quota, error)
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	PersonaID string `json:"persona_id"`
	entitlement.Quota
}

// UsageHandler serves the caller's message allowance for today.
type UsageHandler struct {
	personas catalog.Registry
	subjects SubjectStore
	quotas   QuotaReader
	logger   *slog.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(personas catalog.Registry, subjects SubjectStore, quotas QuotaReader, logger *slog.Logger) *UsageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageHandler{personas: personas, subjects: subjects, quotas: quotas, logger: logger}
}

// RegisterRoutes mounts GET /usage.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/usage", h.Get)
}

// Get returns the remaining messages for ?persona= on the current UTC day.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	personaID := r.URL.Query().Get("persona")
	if personaID == "" {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"persona query parameter is required",
			nil,
			map[string]any{"field": "persona"},
		))
		return
	}
	persona, err := lookupPersona(h.personas, personaID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	subject, err := currentSubject(r, h.subjects)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	quota, err := h.quotas.RemainingMessages(r.Context(), subject, persona, h.quotas.Today())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, UsageResponse{PersonaID: persona.ID, Quota: quota})
}
