package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves secret references as the names of other environment
// variables. Platforms that inject secrets under their own names (for example
// a mounted STRIPE_LIVE_KEY) point STRIPE_SECRET_KEY_SECRET_REF at them.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch looks each key up with os.LookupEnv.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
