package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(Config{
		Secret:       testSecret,
		Issuer:       "https://baas.example.com/auth/v1",
		Audience:     "authenticated",
		AllowDevices: true,
	}, fixedClock{now}, nil)
	require.NoError(t, err)
	return a
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims BaaSClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func validClaims() BaaSClaims {
	return BaaSClaims{
		Email: "Alice@Example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "5b7e1c9a-acct",
			Issuer:    "https://baas.example.com/auth/v1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestNewAuthenticator_ShortSecret(t *testing.T) {
	_, err := NewAuthenticator(Config{Secret: "short"}, nil, nil)
	assert.Error(t, err)
}

func TestResolveToken_Valid(t *testing.T) {
	a := newTestAuthenticator(t)

	p, err := a.ResolveToken(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "5b7e1c9a-acct", p.SubjectID)
	assert.Equal(t, types.SubjectAccount, p.Kind)
	assert.Equal(t, "alice@example.com", p.Email)
	assert.True(t, p.IsAccount())
}

func TestResolveToken_Rejections(t *testing.T) {
	a := newTestAuthenticator(t)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))

	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"anon"}

	noSub := validClaims()
	noSub.Subject = ""

	deviceSub := validClaims()
	deviceSub.Subject = DeviceSubjectPrefix + "abc"

	noExp := validClaims()
	noExp.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
		code  types.ErrorCode
	}{
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired), types.ErrCodeAuthTokenExpired},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte(strings.Repeat("x", 32)), validClaims()), types.ErrCodeAuthTokenInvalid},
		{"wrong audience", sign(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAud), types.ErrCodeAuthTokenInvalid},
		{"no subject", sign(t, jwt.SigningMethodHS256, []byte(testSecret), noSub), types.ErrCodeAuthTokenInvalid},
		{"reserved subject", sign(t, jwt.SigningMethodHS256, []byte(testSecret), deviceSub), types.ErrCodeAuthTokenInvalid},
		{"no expiry", sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExp), types.ErrCodeAuthTokenInvalid},
		{"alg none", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims()), types.ErrCodeAuthTokenInvalid},
		{"garbage", "not.a.jwt", types.ErrCodeAuthTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ResolveToken(context.Background(), tt.token)
			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestResolveDevice(t *testing.T) {
	a := newTestAuthenticator(t)
	token := uuid.NewString()

	p, err := a.ResolveDevice(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, types.SubjectDevice, p.Kind)
	assert.True(t, strings.HasPrefix(p.SubjectID, DeviceSubjectPrefix))
	assert.NotContains(t, p.SubjectID, token)

	again, err := a.ResolveDevice(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, p.SubjectID, again.SubjectID, "same token maps to same subject")

	other, err := a.ResolveDevice(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.NotEqual(t, p.SubjectID, other.SubjectID)
}

func TestResolveDevice_Rejections(t *testing.T) {
	a := newTestAuthenticator(t)
	for _, tok := range []string{"", "short", strings.Repeat("a", 129), "has spaces in it!!"} {
		_, err := a.ResolveDevice(context.Background(), tok)
		assert.Error(t, err, tok)
	}

	disabled, err := NewAuthenticator(Config{Secret: testSecret}, nil, nil)
	require.NoError(t, err)
	_, err = disabled.ResolveDevice(context.Background(), uuid.NewString())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthTokenMissing, appErr.Code)
}
