package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"companion/internal/catalog"
	"companion/internal/core"
	"companion/internal/entitlement"
	"companion/internal/types"
)

// PersonaView is one catalog entry as seen by the caller.
type PersonaView struct {
	types.Persona
	Unlocked  bool `json:"unlocked"`
	Unlimited bool `json:"unlimited"`
}

// AccessResponse is the body of GET /v1/personas/{personaID}/access.
type AccessResponse struct {
	PersonaID string            `json:"persona_id"`
	Tier      types.PersonaTier `json:"tier"`
	HasAccess bool              `json:"has_access"`
	Unlimited bool              `json:"unlimited"`
}

// PersonaHandler serves the catalog annotated with the caller's entitlements.
type PersonaHandler struct {
	personas catalog.Registry
	subjects SubjectStore
	clock    types.Clock
	logger   *slog.Logger
}

// NewPersonaHandler creates a PersonaHandler.
func NewPersonaHandler(personas catalog.Registry, subjects SubjectStore, clock types.Clock, logger *slog.Logger) *PersonaHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PersonaHandler{personas: personas, subjects: subjects, clock: clock, logger: logger}
}

// RegisterRoutes mounts the persona endpoints.
func (h *PersonaHandler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.List)
	r.Get("/personas/{personaID}/access", h.Access)
}

// List returns every persona with unlocked and unlimited flags for the caller.
func (h *PersonaHandler) List(w http.ResponseWriter, r *http.Request) {
	subject, err := currentSubject(r, h.subjects)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	now := h.clock.Now()
	all := h.personas.All()
	views := make([]PersonaView, 0, len(all))
	for _, p := range all {
		views = append(views, PersonaView{
			Persona:   p,
			Unlocked:  entitlement.HasAccess(subject, p, now),
			Unlimited: entitlement.IsUnlimited(subject, p, now),
		})
	}
	core.OK(w, r, views)
}

// Access answers whether the caller may chat with one persona.
func (h *PersonaHandler) Access(w http.ResponseWriter, r *http.Request) {
	persona, err := lookupPersona(h.personas, chi.URLParam(r, "personaID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	subject, err := currentSubject(r, h.subjects)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	now := h.clock.Now()
	core.OK(w, r, AccessResponse{
		PersonaID: persona.ID,
		Tier:      persona.Tier,
		HasAccess: entitlement.HasAccess(subject, persona, now),
		Unlimited: entitlement.IsUnlimited(subject, persona, now),
	})
}
