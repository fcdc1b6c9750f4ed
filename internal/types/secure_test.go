package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_super-secret-12345"

func TestSecretString_Formatting(t *testing.T) {
	s := SecretString(testSecret)

	assert.Equal(t, redactedPlaceholder, s.String())
	assert.Equal(t, "key="+redactedPlaceholder, fmt.Sprintf("key=%s", s))
	assert.Equal(t, "key="+redactedPlaceholder, fmt.Sprintf("key=%v", s))
	assert.NotContains(t, fmt.Sprintf("%+v", struct{ Key SecretString }{s}), testSecret)
}

func TestSecretString_JSON(t *testing.T) {
	cfg := struct {
		Name   string       `json:"name"`
		Secret SecretString `json:"secret"`
	}{Name: "stripe", Secret: SecretString(testSecret)}

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"stripe","secret":"***REDACTED***"}`, string(out))
}

func TestSecretString_SlogRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("config loaded", "webhook_secret", SecretString(testSecret))

	assert.NotContains(t, buf.String(), testSecret)
	assert.Contains(t, buf.String(), redactedPlaceholder)
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testSecret)
	assert.Equal(t, testSecret, s.Unmask())
	assert.False(t, s.IsZero())
	assert.True(t, SecretString("").IsZero())
}
