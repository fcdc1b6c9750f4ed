package core

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"companion/internal/config"
	"companion/internal/types"
)

// fakeAuthenticator returns canned principals and records what it was asked.
type fakeAuthenticator struct {
	Principal *types.Principal
	Err       error

	LastToken  string
	LastDevice string
}

func (f *fakeAuthenticator) ResolveToken(_ context.Context, token string) (*types.Principal, error) {
	f.LastToken = token
	return f.Principal, f.Err
}

func (f *fakeAuthenticator) ResolveDevice(_ context.Context, device string) (*types.Principal, error) {
	f.LastDevice = device
	return f.Principal, f.Err
}

type fakeProbe struct {
	name  string
	err   error
	block bool
}

func (p fakeProbe) Name() string { return p.name }

func (p fakeProbe) Check(ctx context.Context) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.RequestsPerMinute = 3
	s, err := NewServer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}
