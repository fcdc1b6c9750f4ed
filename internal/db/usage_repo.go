package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"companion/internal/types"
	"companion/internal/usage"
)

// UsageRepository implements usage.SendCounter and usage.Purger on the
// usage_counters and message_sends tables.
type UsageRepository struct {
	db DBTX
	tx TxBeginner
}

// NewUsageRepository creates a UsageRepository. tx is usually the same
// *pgxpool.Pool passed as db.
func NewUsageRepository(db DBTX, tx TxBeginner) *UsageRepository {
	return &UsageRepository{db: db, tx: tx}
}

// Increment implements usage.Counter with a single upsert so concurrent
// senders never lose an update.
func (r *UsageRepository) Increment(ctx context.Context, subjectID string, day usage.Day) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		INSERT INTO usage_counters (subject_id, day, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (subject_id, day) DO UPDATE SET count = usage_counters.count + 1
		RETURNING count`,
		subjectID, day.Start(),
	).Scan(&count)
	if err != nil {
		return 0, types.NewPersistenceFailure("failed to increment usage", err)
	}
	return count, nil
}

// Get implements usage.Counter.
func (r *UsageRepository) Get(ctx context.Context, subjectID string, day usage.Day) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count FROM usage_counters WHERE subject_id = $1 AND day = $2`,
		subjectID, day.Start(),
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewPersistenceFailure("failed to read usage", err)
	}
	return count, nil
}

// Reserve implements usage.SendCounter. The counter row is upserted and
// locked first so concurrent reservations for one subject and day serialize
// on it.
func (r *UsageRepository) Reserve(ctx context.Context, subjectID string, day usage.Day, sendID string, limit int, now time.Time) (usage.ReserveStatus, error) {
	status := usage.LimitReached
	err := WithTx(ctx, r.tx, func(tx pgx.Tx) error {
		var counted int
		err := tx.QueryRow(ctx, `
			INSERT INTO usage_counters (subject_id, day, count)
			VALUES ($1, $2, 0)
			ON CONFLICT (subject_id, day) DO UPDATE SET count = usage_counters.count
			RETURNING count`,
			subjectID, day.Start(),
		).Scan(&counted)
		if err != nil {
			return types.NewPersistenceFailure("failed to lock usage counter", err)
		}

		var (
			seen    bool
			pending int
		)
		err = tx.QueryRow(ctx, `
			SELECT
				COALESCE(bool_or(send_id = $2), false),
				COUNT(*) FILTER (WHERE day = $3 AND state = 'pending' AND reserved_at > $4)
			FROM message_sends
			WHERE subject_id = $1`,
			subjectID, sendID, day.Start(), now.Add(-usage.ReservationTTL),
		).Scan(&seen, &pending)
		if err != nil {
			return types.NewPersistenceFailure("failed to read pending sends", err)
		}

		switch {
		case seen:
			status = usage.DuplicateSend
			return nil
		case counted+pending >= limit:
			status = usage.LimitReached
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO message_sends (subject_id, send_id, day, state, reserved_at)
			VALUES ($1, $2, $3, 'pending', $4)`,
			subjectID, sendID, day.Start(), now,
		)
		if err != nil {
			return types.NewPersistenceFailure("failed to reserve send", err)
		}
		status = usage.Reserved
		return nil
	})
	if err != nil {
		return usage.LimitReached, err
	}
	return status, nil
}

// Commit implements usage.SendCounter. Marking the send counted and the
// counter upsert run as one statement; a send that is not pending updates
// no row and the current count is returned unchanged.
func (r *UsageRepository) Commit(ctx context.Context, subjectID string, day usage.Day, sendID string) (int, bool, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		WITH send AS (
			UPDATE message_sends SET state = 'counted'
			WHERE subject_id = $1 AND send_id = $2 AND state = 'pending'
			RETURNING day
		)
		INSERT INTO usage_counters (subject_id, day, count)
		SELECT $1, day, 1 FROM send
		ON CONFLICT (subject_id, day) DO UPDATE SET count = usage_counters.count + 1
		RETURNING count`,
		subjectID, sendID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		current, gerr := r.Get(ctx, subjectID, day)
		return current, false, gerr
	}
	if err != nil {
		return 0, false, types.NewPersistenceFailure("failed to record send", err)
	}
	return count, true, nil
}

// Release implements usage.SendCounter.
func (r *UsageRepository) Release(ctx context.Context, subjectID, sendID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM message_sends WHERE subject_id = $1 AND send_id = $2 AND state = 'pending'`,
		subjectID, sendID,
	)
	if err != nil {
		return types.NewPersistenceFailure("failed to release send", err)
	}
	return nil
}

// PurgeBefore implements usage.Purger. Send ids share the counters'
// retention window.
func (r *UsageRepository) PurgeBefore(ctx context.Context, cutoff usage.Day) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM usage_counters WHERE day < $1`, cutoff.Start())
	if err != nil {
		return 0, types.NewPersistenceFailure("failed to purge usage counters", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM message_sends WHERE day < $1`, cutoff.Start()); err != nil {
		return 0, types.NewPersistenceFailure("failed to purge message sends", err)
	}
	return tag.RowsAffected(), nil
}
