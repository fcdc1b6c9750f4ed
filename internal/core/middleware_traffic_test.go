package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"companion/internal/types"
)

type failingRateStore struct{}

func (failingRateStore) IncrementAndCheck(context.Context, string, int, time.Duration) (RateLimitResult, error) {
	return RateLimitResult{}, errors.New("store down")
}

func rateLimitedRequest(s *Server, subject string) *httptest.ResponseRecorder {
	h := s.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req = req.WithContext(types.WithPrincipal(req.Context(), types.Principal{SubjectID: subject}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_PerSubject(t *testing.T) {
	s := newTestServer(t)
	s.RateLimitStore = NewMemoryRateLimitStore(nil)

	for i := 0; i < 3; i++ {
		if rec := rateLimitedRequest(s, "a"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}

	rec := rateLimitedRequest(s, "a")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("4th request: got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if got := errorCode(t, rec); got != string(types.ErrCodeRateLimit) {
		t.Errorf("code: got %q", got)
	}

	if rec := rateLimitedRequest(s, "b"); rec.Code != http.StatusOK {
		t.Errorf("other subject should not be limited, got %d", rec.Code)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	s := newTestServer(t)
	s.RateLimitStore = failingRateStore{}
	if rec := rateLimitedRequest(s, "a"); rec.Code != http.StatusOK {
		t.Errorf("got %d, want 200", rec.Code)
	}
}

func TestMemoryRateLimitStore_WindowResets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryRateLimitStore(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.IncrementAndCheck(ctx, "k", 2, time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	res, _ := store.IncrementAndCheck(ctx, "k", 2, time.Minute)
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("third call: got %+v", res)
	}

	now = now.Add(time.Minute)
	res, _ = store.IncrementAndCheck(ctx, "k", 2, time.Minute)
	if !res.Allowed || res.Remaining != 1 {
		t.Errorf("after window: got %+v", res)
	}
	if !res.ResetAt.Equal(now.Add(time.Minute)) {
		t.Errorf("reset: got %v", res.ResetAt)
	}
}
