// Package handlers contains the HTTP handlers of the companion API.
//
// Each handler declares the narrow service contracts it needs, receives the
// implementations through its constructor, and mounts itself via
// RegisterRoutes. Authentication has already run by the time a /v1 handler
// executes; the caller is available as a types.Principal in the context.
package handlers

import (
	"context"
	"net/http"

	"companion/internal/catalog"
	"companion/internal/types"
)

// SubjectStore loads (and lazily creates) the subject behind a principal.
type SubjectStore interface {
	EnsureSubject(ctx context.Context, p types.Principal) (*types.Subject, error)
}

// currentSubject resolves the authenticated caller's subject row.
func currentSubject(r *http.Request, store SubjectStore) (*types.Subject, error) {
	p, ok := types.GetPrincipal(r.Context())
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil)
	}
	subject, err := store.EnsureSubject(r.Context(), p)
	if err != nil {
		return nil, types.NewPersistenceFailure("failed to load subject", err)
	}
	return subject, nil
}

// lookupPersona returns not_found_persona for ids missing from the catalog.
func lookupPersona(reg catalog.Registry, id string) (types.Persona, error) {
	persona, ok := reg.Get(id)
	if !ok {
		return types.Persona{}, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundPersona,
			"persona not found",
			nil,
			map[string]any{"persona_id": id},
		)
	}
	return persona, nil
}
