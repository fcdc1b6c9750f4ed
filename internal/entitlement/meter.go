package entitlement

import (
	"context"
	"log/slog"

	"companion/internal/types"
	"companion/internal/usage"
)

// Meter admits and counts messages against the daily counter.
//
// A send is reserved before the model is called, which rejects a reused send
// id and holds one of the day's slots so concurrent sends cannot overshoot
// the limit. RecordSend counts the send once the model replied; Release
// frees the slot when it did not.
type Meter struct {
	counter  usage.SendCounter
	resolver *Resolver
	logger   *slog.Logger
}

// Reservation is a send admitted by Reserve.
type Reservation struct {
	SubjectID string
	SendID    string
	Day       usage.Day
	// Unlimited sends hold no slot and are never counted.
	Unlimited bool
}

// NewMeter creates a Meter sharing the resolver's limit and clock.
func NewMeter(counter usage.SendCounter, resolver *Resolver, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{counter: counter, resolver: resolver, logger: logger}
}

// Reserve admits one send for subject on day. It returns a quota error when
// counted and in-flight sends fill the limit, and a conflict error when
// sendID was already used by this subject.
func (m *Meter) Reserve(ctx context.Context, subject *types.Subject, persona types.Persona, day usage.Day, sendID string) (Reservation, error) {
	res := Reservation{SubjectID: subject.ID, SendID: sendID, Day: day}
	now := m.resolver.clock.Now()
	if IsUnlimited(subject, persona, now) {
		res.Unlimited = true
		return res, nil
	}

	status, err := m.counter.Reserve(ctx, subject.ID, day, sendID, m.resolver.dailyLimit, now)
	if err != nil {
		return Reservation{}, types.NewPersistenceFailure("failed to reserve message", err)
	}
	switch status {
	case usage.DuplicateSend:
		m.logger.InfoContext(ctx, "reused send id rejected",
			slog.String("subject_id", subject.ID),
			slog.String("send_id", sendID),
		)
		return Reservation{}, types.NewAppErrorWithDetails(
			types.ErrCodeConflictDuplicateSend,
			"send id was already used for a message",
			nil,
			map[string]any{"send_id": sendID},
		)
	case usage.LimitReached:
		return Reservation{}, types.NewQuotaExceeded(m.resolver.dailyLimit)
	}
	return res, nil
}

// RecordSend counts a reserved send and returns the quota after it.
func (m *Meter) RecordSend(ctx context.Context, subject *types.Subject, persona types.Persona, res Reservation) (Quota, error) {
	limit := m.resolver.dailyLimit
	if res.Unlimited {
		return Quota{Day: res.Day.String(), Limit: limit, Remaining: Unlimited, Unlimited: true}, nil
	}

	count, applied, err := m.counter.Commit(ctx, res.SubjectID, res.Day, res.SendID)
	if err != nil {
		return Quota{}, types.NewPersistenceFailure("failed to record message", err)
	}
	if !applied {
		m.logger.WarnContext(ctx, "send was not pending when recorded",
			slog.String("subject_id", res.SubjectID),
			slog.String("send_id", res.SendID),
		)
	}

	// Premium may have landed while the model was answering.
	if IsUnlimited(subject, persona, m.resolver.clock.Now()) {
		return Quota{Day: res.Day.String(), Used: count, Limit: limit, Remaining: Unlimited, Unlimited: true}, nil
	}
	return Quota{
		Day:       res.Day.String(),
		Used:      count,
		Limit:     limit,
		Remaining: max(0, limit-count),
	}, nil
}

// Release frees the slot held by a send that was not delivered.
func (m *Meter) Release(ctx context.Context, res Reservation) error {
	if res.Unlimited {
		return nil
	}
	if err := m.counter.Release(ctx, res.SubjectID, res.SendID); err != nil {
		return types.NewPersistenceFailure("failed to release message", err)
	}
	return nil
}
