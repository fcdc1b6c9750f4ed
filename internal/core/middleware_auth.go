package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"companion/internal/types"
)

const deviceTokenHeader = "X-Device-Token"

// AuthMiddleware resolves the caller to a Principal. A bearer token wins over
// a device token when both are present; a request carrying neither is
// rejected with auth_token_missing. If no Authenticator is configured the
// middleware passes through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		var (
			principal *types.Principal
			err       error
		)
		switch {
		case r.Header.Get("Authorization") != "":
			token := extractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				s.writeAuthError(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "bearer token is required", nil))
				return
			}
			principal, err = s.Authenticator.ResolveToken(r.Context(), token)
		case r.Header.Get(deviceTokenHeader) != "":
			principal, err = s.Authenticator.ResolveDevice(r.Context(), strings.TrimSpace(r.Header.Get(deviceTokenHeader)))
		default:
			s.writeAuthError(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authorization or device token is required", nil))
			return
		}

		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}
		if principal == nil {
			s.writeAuthError(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid authentication token", nil))
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithPrincipal(r.Context(), *principal)))
	})
}

// extractBearerToken returns the credential of a "Bearer <token>" header.
// The scheme is matched case-insensitively.
func extractBearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeAuthError logs the failure and writes a 401. Errors that are not auth
// AppErrors are reported as auth_token_invalid so internals never leak.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus() != http.StatusUnauthorized {
		s.Logger.Error("authentication failed: unexpected error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		appErr = types.NewAppError(types.ErrCodeAuthTokenInvalid, "authentication failed", err)
	} else {
		s.Logger.Warn("authentication failed",
			slog.String("path", r.URL.Path),
			slog.String("error_code", string(appErr.Code)),
		)
	}
	Error(w, r, appErr)
}

// RequireAccount rejects device principals with permission_account_required.
func (s *Server) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := types.GetPrincipal(r.Context())
		if !ok {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
			return
		}
		if !p.IsAccount() {
			Error(w, r, types.NewAppError(types.ErrCodePermissionAccountOnly, "sign in to use this feature", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
