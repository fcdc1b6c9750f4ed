package config

import "context"

// SecretProvider resolves secret references to plaintext values. The keys
// are the values of *_SECRET_REF environment variables.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext for every key it could
	// resolve. Missing keys are omitted rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
