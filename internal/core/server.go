// Package core is the HTTP chassis of the companion API: a chi router plus
// the cross-cutting middleware (recovery, request ids, logging, CORS, auth,
// rate limiting) that runs before any domain handler.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"companion/internal/config"
)

// RouteRegistrar mounts a group of handler routes.
type RouteRegistrar func(r chi.Router)

// Server holds the chassis dependencies. Handler packages register their
// routes through the registrar slices so core never imports them.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Authenticator  Authenticator
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// V1RouteRegistrars are mounted under /v1 behind authentication.
	V1RouteRegistrars []RouteRegistrar
	// WebhookRegistrars are mounted under /webhooks without authentication;
	// each handler verifies its own signatures.
	WebhookRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer creates a Server with an empty router. Call MountRoutes after
// registering handlers.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown closes any probe that owns resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	for _, p := range s.HealthProbes {
		if closer, ok := p.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
