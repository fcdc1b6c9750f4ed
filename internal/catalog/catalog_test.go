package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/types"
)

func TestStaticRegistry_Tiers(t *testing.T) {
	r := NewStaticRegistry()

	aiko, ok := r.Get("aiko")
	require.True(t, ok)
	assert.Equal(t, types.TierFree, aiko.Tier)

	yui, ok := r.Get("yui")
	require.True(t, ok)
	assert.Equal(t, types.TierOneTime, yui.Tier)
	assert.True(t, yui.UnlimitedForOwners)
	assert.Equal(t, int64(999), yui.PriceCents)

	_, ok = r.Get("nobody")
	assert.False(t, ok)
}

func TestStaticRegistry_AllIsSorted(t *testing.T) {
	all := NewStaticRegistry().All()
	require.Len(t, all, len(defaultPersonas))
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		personas []types.Persona
	}{
		{"empty id", []types.Persona{{Tier: types.TierFree}}},
		{"duplicate", []types.Persona{{ID: "a", Tier: types.TierFree}, {ID: "a", Tier: types.TierFree}}},
		{"one_time without price", []types.Persona{{ID: "a", Tier: types.TierOneTime}}},
		{"unknown tier", []types.Persona{{ID: "a", Tier: "lifetime"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.personas)
			assert.Error(t, err)
		})
	}
}

func TestCheckPrices(t *testing.T) {
	r := NewStaticRegistry()

	err := CheckPrices(r, func(id string) bool { return id == "yui" })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sora")

	assert.NoError(t, CheckPrices(r, func(string) bool { return true }))
}
