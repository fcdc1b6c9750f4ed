// Package entitlement answers the two questions asked before every chat
// message: may this subject talk to this persona, and how many messages does
// it have left today.
//
// Access is always derived from the subject's current state and the clock;
// nothing here is cached because premium can lapse between two calls.
package entitlement

import (
	"context"
	"log/slog"
	"time"

	"companion/internal/types"
	"companion/internal/usage"
)

// Unlimited is the Remaining value reported for subjects without a daily cap.
const Unlimited = -1

// DefaultDailyLimit applies when no limit is configured.
const DefaultDailyLimit = 5

// Quota is a subject's message allowance for one day.
type Quota struct {
	Day       string `json:"day"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// Allows reports whether one more message may be sent.
func (q Quota) Allows() bool {
	return q.Unlimited || q.Remaining > 0
}

// HasAccess reports whether subject may chat with persona at now.
func HasAccess(subject *types.Subject, persona types.Persona, now time.Time) bool {
	switch persona.Tier {
	case types.TierFree:
		return true
	case types.TierSubscription:
		return subject.PremiumActive(now)
	case types.TierOneTime:
		return subject.Owns(persona.ID)
	default:
		return false
	}
}

// IsUnlimited reports whether the daily cap is lifted for this pairing:
// an active subscription lifts it everywhere, an owned one-time persona
// flagged UnlimitedForOwners lifts it for that persona only.
func IsUnlimited(subject *types.Subject, persona types.Persona, now time.Time) bool {
	if subject.PremiumActive(now) {
		return true
	}
	return persona.Tier == types.TierOneTime && persona.UnlimitedForOwners && subject.Owns(persona.ID)
}

// Resolver computes quotas from the usage counter.
type Resolver struct {
	counter    usage.Counter
	dailyLimit int
	clock      types.Clock
	logger     *slog.Logger
}

// NewResolver creates a Resolver. A non-positive dailyLimit falls back to
// DefaultDailyLimit.
func NewResolver(counter usage.Counter, dailyLimit int, clock types.Clock, logger *slog.Logger) *Resolver {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{counter: counter, dailyLimit: dailyLimit, clock: clock, logger: logger}
}

// DailyLimit returns the configured per-day message cap.
func (r *Resolver) DailyLimit() int {
	return r.dailyLimit
}

// Today returns the current UTC day.
func (r *Resolver) Today() usage.Day {
	return usage.DayOf(r.clock.Now())
}

// RemainingMessages returns the subject's allowance for day.
func (r *Resolver) RemainingMessages(ctx context.Context, subject *types.Subject, persona types.Persona, day usage.Day) (Quota, error) {
	q := Quota{Day: day.String(), Limit: r.dailyLimit}

	if IsUnlimited(subject, persona, r.clock.Now()) {
		q.Unlimited = true
		q.Remaining = Unlimited
		return q, nil
	}

	used, err := r.counter.Get(ctx, subject.ID, day)
	if err != nil {
		return Quota{}, types.NewPersistenceFailure("failed to read usage counter", err)
	}
	q.Used = used
	q.Remaining = max(0, r.dailyLimit-used)
	return q, nil
}

// AuthorizeSend checks access and quota for a message about to be sent.
// It returns a permission error when the persona is locked and a quota
// error when today's allowance is spent.
func (r *Resolver) AuthorizeSend(ctx context.Context, subject *types.Subject, persona types.Persona) (Quota, error) {
	now := r.clock.Now()
	if !HasAccess(subject, persona, now) {
		return Quota{}, types.NewAppErrorWithDetails(
			types.ErrCodePermissionPersonaLocked,
			"persona is not unlocked for this subject",
			nil,
			map[string]any{"persona_id": persona.ID, "tier": string(persona.Tier)},
		)
	}

	q, err := r.RemainingMessages(ctx, subject, persona, usage.DayOf(now))
	if err != nil {
		return Quota{}, err
	}
	if !q.Allows() {
		r.logger.InfoContext(ctx, "daily message limit reached",
			slog.String("subject_id", subject.ID),
			slog.String("persona_id", persona.ID),
			slog.Int("limit", q.Limit),
		)
		return q, types.NewQuotaExceeded(q.Limit)
	}
	return q, nil
}
