// Package catalog provides the companion persona registry.
package catalog

import (
	"fmt"
	"sort"

	"companion/internal/types"
)

// Registry is the authoritative source of persona tiers.
type Registry interface {
	// Get returns the persona with the given id.
	Get(id string) (types.Persona, bool)
	// All returns every persona ordered by id.
	All() []types.Persona
}

type staticRegistry struct {
	personas map[string]types.Persona
}

// defaultPersonas is the shipped catalog.
//
//	| Persona | Tier         | Price  | Unlimited for owners |
//	|---------|--------------|--------|----------------------|
//	| aiko    | free         |        |                      |
//	| haru    | free         |        |                      |
//	| mika    | subscription |        |                      |
//	| ren     | subscription |        |                      |
//	| yui     | one_time     | $9.99  | yes                  |
//	| sora    | one_time     | $4.99  | no                   |
var defaultPersonas = []types.Persona{
	{ID: "aiko", DisplayName: "Aiko", Tier: types.TierFree},
	{ID: "haru", DisplayName: "Haru", Tier: types.TierFree},
	{ID: "mika", DisplayName: "Mika", Tier: types.TierSubscription},
	{ID: "ren", DisplayName: "Ren", Tier: types.TierSubscription},
	{ID: "yui", DisplayName: "Yui", Tier: types.TierOneTime, PriceCents: 999, UnlimitedForOwners: true},
	{ID: "sora", DisplayName: "Sora", Tier: types.TierOneTime, PriceCents: 499},
}

// NewStaticRegistry returns the registry backed by the shipped catalog.
func NewStaticRegistry() Registry {
	r, _ := NewRegistry(defaultPersonas)
	return r
}

// NewRegistry builds a registry from an explicit persona list. Duplicate ids
// and one_time personas without a price are rejected.
func NewRegistry(personas []types.Persona) (Registry, error) {
	m := make(map[string]types.Persona, len(personas))
	for _, p := range personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona with empty id")
		}
		if _, dup := m[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona %q", p.ID)
		}
		switch p.Tier {
		case types.TierFree, types.TierSubscription:
		case types.TierOneTime:
			if p.PriceCents <= 0 {
				return nil, fmt.Errorf("one_time persona %q has no price", p.ID)
			}
		default:
			return nil, fmt.Errorf("persona %q has unknown tier %q", p.ID, p.Tier)
		}
		m[p.ID] = p
	}
	return &staticRegistry{personas: m}, nil
}

func (r *staticRegistry) Get(id string) (types.Persona, bool) {
	p, ok := r.personas[id]
	return p, ok
}

func (r *staticRegistry) All() []types.Persona {
	out := make([]types.Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CheckPrices verifies that every one_time persona has a checkout price.
// Called at startup so a missing price fails the deploy rather than a sale.
func CheckPrices(r Registry, hasPrice func(personaID string) bool) error {
	var missing []string
	for _, p := range r.All() {
		if p.Tier == types.TierOneTime && !hasPrice(p.ID) {
			missing = append(missing, p.ID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no one_time price configured for personas %v", missing)
	}
	return nil
}
