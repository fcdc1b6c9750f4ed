package core

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"companion/internal/types"
)

const rateLimitWindow = time.Minute

// RateLimit enforces RATE_LIMIT_PER_MINUTE per subject. It runs after
// AuthMiddleware and passes through when no store is configured, when the
// limit is disabled, or when the store fails.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := s.rateLimitPerMinute()
		if s.RateLimitStore == nil || limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		p, ok := types.GetPrincipal(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), p.SubjectID, limit, rateLimitWindow)
		if err != nil {
			s.Logger.Error("rate limit store error",
				slog.String("subject_id", p.SubjectID),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("subject_id", p.SubjectID),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(time.Until(result.ResetAt).Seconds()))))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "too many requests, retry shortly", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitPerMinute() int {
	if s.Config == nil {
		return 0
	}
	return s.Config.Security.RequestsPerMinute
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// MemoryRateLimitStore is a fixed-window RateLimitStore held in process
// memory. Each API instance limits independently.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// NewMemoryRateLimitStore returns an empty store. A nil clock means time.Now.
func NewMemoryRateLimitStore(clock func() time.Time) *MemoryRateLimitStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryRateLimitStore{
		windows: make(map[string]*rateWindow),
		now:     clock,
	}
}

func (m *MemoryRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	win, ok := m.windows[key]
	if !ok || !now.Before(win.resetAt) {
		m.evictExpired(now)
		win = &rateWindow{resetAt: now.Add(window)}
		m.windows[key] = win
	}
	win.count++

	return RateLimitResult{
		Allowed:   win.count <= limit,
		Remaining: max(0, limit-win.count),
		ResetAt:   win.resetAt,
	}, nil
}

// evictExpired drops finished windows so idle subjects do not accumulate.
func (m *MemoryRateLimitStore) evictExpired(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
