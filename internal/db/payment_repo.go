package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"companion/internal/reconcile"
	"companion/internal/types"
)

// PaymentRepository applies reconciled payments: one ledger row plus the
// entitlement change, committed together.
type PaymentRepository struct {
	db DBTX
	tx TxBeginner
}

// NewPaymentRepository creates a PaymentRepository. tx is usually the same
// *pgxpool.Pool passed as db.
func NewPaymentRepository(db DBTX, tx TxBeginner) *PaymentRepository {
	return &PaymentRepository{db: db, tx: tx}
}

// ApplyPayment implements reconcile.Store. The subject row is locked before
// the ledger insert so concurrent deliveries for one subject serialize; a
// conflicting idempotency key aborts the transaction with
// types.ErrDuplicateEvent. A premium subject without an expiry never lapses
// and keeps its NULL expiry.
func (r *PaymentRepository) ApplyPayment(ctx context.Context, entry types.LedgerEntry, change reconcile.Change) (*types.Subject, error) {
	var out *types.Subject
	err := WithTx(ctx, r.tx, func(tx pgx.Tx) error {
		var locked *types.Subject
		if entry.SubjectID != "" {
			s, err := scanSubject(tx.QueryRow(ctx,
				`SELECT `+subjectColumns+` FROM subjects WHERE id = $1 FOR UPDATE`, entry.SubjectID))
			if errors.Is(err, pgx.ErrNoRows) {
				return types.ErrSubjectNotFound
			}
			if err != nil {
				return types.NewPersistenceFailure("failed to lock subject", err)
			}
			locked = s
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO payment_events
				(idempotency_key, event_kind, subject_id, purchase_kind, persona_id, amount_cents, processed_at)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7)
			ON CONFLICT (idempotency_key) DO NOTHING`,
			entry.IdempotencyKey,
			string(entry.EventKind),
			entry.SubjectID,
			string(entry.PurchaseKind),
			entry.PersonaID,
			entry.AmountCents,
			entry.ProcessedAt,
		)
		if err != nil {
			return types.NewPersistenceFailure("failed to record payment event", err)
		}
		if tag.RowsAffected() == 0 {
			return types.ErrDuplicateEvent
		}

		if locked == nil || change.IsZero() {
			out = locked
			return nil
		}

		extend := change.ExtendPremiumTo != nil
		var expiry *time.Time
		if extend {
			expiry = change.ExtendPremiumTo
		}
		query := `
			UPDATE subjects SET
				premium = premium OR $2,
				premium_expires_at = CASE
					WHEN NOT $2 THEN premium_expires_at
					WHEN premium AND premium_expires_at IS NULL THEN NULL
					ELSE GREATEST(premium_expires_at, $3) END,
				purchased_models = CASE
					WHEN $4 <> '' AND NOT ($4 = ANY(purchased_models))
					THEN array_append(purchased_models, $4)
					ELSE purchased_models END,
				stripe_customer_id = COALESCE(stripe_customer_id, NULLIF($5, '')),
				updated_at = NOW()
			WHERE id = $1
			RETURNING ` + subjectColumns

		s, err := scanSubject(tx.QueryRow(ctx, query,
			entry.SubjectID, extend, expiry, change.UnlockPersona, change.CustomerID))
		if err != nil {
			return types.NewPersistenceFailure("failed to apply entitlement change", err)
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeLedgerBefore deletes ledger rows processed before cutoff.
func (r *PaymentRepository) PurgeLedgerBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM payment_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, types.NewPersistenceFailure("failed to purge payment events", err)
	}
	return tag.RowsAffected(), nil
}
