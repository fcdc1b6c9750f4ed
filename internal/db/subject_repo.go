package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"companion/internal/types"
)

// SubjectRepository provides data access for the subjects table.
type SubjectRepository struct {
	db DBTX
}

// NewSubjectRepository creates a SubjectRepository backed by the given
// database connection (pool or transaction).
func NewSubjectRepository(db DBTX) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// subjectColumns is the column list every subject query selects, in the
// order scanSubject expects.
const subjectColumns = `id, kind, COALESCE(email, ''), premium, premium_expires_at,
	purchased_models, COALESCE(stripe_customer_id, ''), created_at, updated_at`

func scanSubject(row pgx.Row) (*types.Subject, error) {
	var s types.Subject
	err := row.Scan(
		&s.ID,
		&s.Kind,
		&s.Email,
		&s.Premium,
		&s.PremiumExpiresAt,
		&s.PurchasedModels,
		&s.StripeCustomerID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.PurchasedModels == nil {
		s.PurchasedModels = []string{}
	}
	return &s, nil
}

func subjectResult(s *types.Subject, err error, op string) (*types.Subject, error) {
	if err == nil {
		return s, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrSubjectNotFound
	}
	return nil, types.NewPersistenceFailure(op, err)
}

// EnsureSubject returns the subject for p, inserting it on first sight. An
// account's email is refreshed when the token carries one.
func (r *SubjectRepository) EnsureSubject(ctx context.Context, p types.Principal) (*types.Subject, error) {
	query := `
		INSERT INTO subjects (id, kind, email)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(EXCLUDED.email, subjects.email),
			updated_at = CASE
				WHEN EXCLUDED.email IS DISTINCT FROM subjects.email AND EXCLUDED.email IS NOT NULL
				THEN NOW() ELSE subjects.updated_at END
		RETURNING ` + subjectColumns

	s, err := scanSubject(r.db.QueryRow(ctx, query, p.SubjectID, string(p.Kind), p.Email))
	return subjectResult(s, err, "failed to ensure subject")
}

// FindSubjectByID implements reconcile.Store.
func (r *SubjectRepository) FindSubjectByID(ctx context.Context, id string) (*types.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE id = $1`
	s, err := scanSubject(r.db.QueryRow(ctx, query, id))
	return subjectResult(s, err, "failed to get subject")
}

// FindSubjectByEmail implements reconcile.Store. Matching is
// case-insensitive and limited to accounts.
func (r *SubjectRepository) FindSubjectByEmail(ctx context.Context, email string) (*types.Subject, error) {
	query := `SELECT ` + subjectColumns + `
		FROM subjects
		WHERE kind = 'account' AND lower(email) = lower($1)
		ORDER BY created_at
		LIMIT 1`
	s, err := scanSubject(r.db.QueryRow(ctx, query, email))
	return subjectResult(s, err, "failed to get subject by email")
}
