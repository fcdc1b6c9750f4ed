// Package auth resolves request credentials to a types.Principal. Accounts
// present a BaaS-issued HS256 access token; anonymous clients present an
// opaque device token.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"companion/internal/types"
)

const (
	defaultLeeway = 30 * time.Second

	// DeviceSubjectPrefix namespaces device subjects so they can never
	// collide with BaaS account ids.
	DeviceSubjectPrefix = "device:"
)

var deviceTokenPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]{16,128}$`)

// Config holds the verifier settings.
type Config struct {
	Secret       string
	Issuer       string
	Audience     string
	AllowDevices bool
}

// BaaSClaims are the claims read from a BaaS access token.
type BaaSClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator implements core.Authenticator.
type Authenticator struct {
	secret       []byte
	allowDevices bool
	parser       *jwt.Parser
	logger       *slog.Logger
}

// NewAuthenticator builds an Authenticator. Issuer and audience are checked
// only when configured.
func NewAuthenticator(cfg Config, clock types.Clock, logger *slog.Logger) (*Authenticator, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(defaultLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		secret:       []byte(cfg.Secret),
		allowDevices: cfg.AllowDevices,
		parser:       jwt.NewParser(opts...),
		logger:       logger,
	}, nil
}

// ResolveToken verifies a bearer access token and returns the account
// principal. Expired tokens yield auth_token_expired, anything else that
// fails verification auth_token_invalid.
func (a *Authenticator) ResolveToken(_ context.Context, token string) (*types.Principal, error) {
	claims := &BaaSClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "access token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "access token is invalid", err)
	}

	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "access token has no subject", nil)
	}
	if strings.HasPrefix(claims.Subject, DeviceSubjectPrefix) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "access token subject is reserved", nil)
	}

	return &types.Principal{
		SubjectID: claims.Subject,
		Kind:      types.SubjectAccount,
		Email:     strings.ToLower(strings.TrimSpace(claims.Email)),
	}, nil
}

// ResolveDevice maps an opaque device token to a device principal. The
// subject id is derived from a hash so the raw token is never stored.
func (a *Authenticator) ResolveDevice(_ context.Context, deviceToken string) (*types.Principal, error) {
	if !a.allowDevices {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "sign in required", nil)
	}
	if !deviceTokenPattern.MatchString(deviceToken) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "device token is malformed", nil)
	}
	return &types.Principal{
		SubjectID: DeviceSubjectID(deviceToken),
		Kind:      types.SubjectDevice,
	}, nil
}

// DeviceSubjectID returns the subject id for a device token.
func DeviceSubjectID(deviceToken string) string {
	sum := sha256.Sum256([]byte(deviceToken))
	return DeviceSubjectPrefix + hex.EncodeToString(sum[:16])
}
