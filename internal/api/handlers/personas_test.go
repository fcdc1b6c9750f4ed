package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/reconcile"
	"companion/internal/types"
)

func TestPersonas_ListReflectsEntitlements(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grant(t, accountPrincipal, reconcile.Change{UnlockPersona: "yui"}, "cs_unlock")

	rec := env.do(t, http.MethodGet, "/v1/personas", "account", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []PersonaView
	decodeData(t, rec, &views)
	byID := map[string]PersonaView{}
	for _, v := range views {
		byID[v.ID] = v
	}

	assert.True(t, byID["aiko"].Unlocked, "free persona")
	assert.False(t, byID["mika"].Unlocked, "subscription persona without premium")
	assert.True(t, byID["yui"].Unlocked, "owned one-time persona")
	assert.True(t, byID["yui"].Unlimited, "yui is unlimited for owners")
	assert.False(t, byID["sora"].Unlocked)
}

func TestPersonas_AccessWithPremium(t *testing.T) {
	env := newTestEnv(t, nil)
	until := testNow.Add(24 * time.Hour)
	env.grant(t, accountPrincipal, reconcile.Change{ExtendPremiumTo: &until}, "cs_sub")

	rec := env.do(t, http.MethodGet, "/v1/personas/mika/access", "account", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AccessResponse
	decodeData(t, rec, &resp)
	assert.True(t, resp.HasAccess)
	assert.True(t, resp.Unlimited)
	assert.Equal(t, types.TierSubscription, resp.Tier)
}

func TestPersonas_AccessUnknownPersona(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/personas/nobody/access", "device", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundPersona), errorCode(t, rec))
}

func TestPersonas_RequiresPrincipal(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/personas", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
