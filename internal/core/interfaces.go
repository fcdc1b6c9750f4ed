package core

import (
	"context"
	"time"

	"companion/internal/types"
)

// Authenticator resolves request credentials to a Principal.
type Authenticator interface {
	// ResolveToken verifies a bearer access token. It returns an AppError
	// with auth_token_expired or auth_token_invalid on failure.
	ResolveToken(ctx context.Context, token string) (*types.Principal, error)
	// ResolveDevice maps an X-Device-Token value to an anonymous subject.
	ResolveDevice(ctx context.Context, deviceToken string) (*types.Principal, error)
}

// RateLimitStore abstracts the backing store for rate limiting.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the counter for key and reports
	// whether the limit has been exceeded within the window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
