package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"companion/internal/types"
	"companion/internal/usage"
)

func countRow(n int) *mockRow {
	return &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*int) = n
		return nil
	}}
}

var testDay = usage.DayOf(time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC))

func TestUsageRepository_Increment(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUsageRepository(db, new(mockBeginner))
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"acct_1", testDay.Start()}).Return(countRow(3))

	n, err := repo.Increment(ctx, "acct_1", testDay)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUsageRepository_Get_NoRowIsZero(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUsageRepository(db, new(mockBeginner))
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	n, err := repo.Get(ctx, "acct_1", testDay)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

var testNow = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

func newReservingRepo(t *testing.T) (*UsageRepository, *mockTx) {
	t.Helper()
	tx := new(mockTx)
	tx.On("Rollback", mock.Anything).Return(nil).Maybe()
	b := new(mockBeginner)
	b.On("Begin", mock.Anything).Return(tx, nil)
	return NewUsageRepository(new(mockDBTX), b), tx
}

func pendingRow(seen bool, pending int) *mockRow {
	return &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*bool) = seen
		*dest[1].(*int) = pending
		return nil
	}}
}

func TestUsageRepository_Reserve_Admits(t *testing.T) {
	repo, tx := newReservingRepo(t)
	ctx := context.Background()
	staleBefore := testNow.Add(-usage.ReservationTTL)

	tx.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"acct_1", testDay.Start()}).Return(countRow(1))
	tx.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"acct_1", "send-1", testDay.Start(), staleBefore}).
		Return(pendingRow(false, 1))
	tx.On("Exec", ctx, mock.AnythingOfType("string"), []any{"acct_1", "send-1", testDay.Start(), testNow}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	tx.On("Commit", ctx).Return(nil)

	st, err := repo.Reserve(ctx, "acct_1", testDay, "send-1", 3, testNow)
	require.NoError(t, err)
	assert.Equal(t, usage.Reserved, st)
	tx.AssertExpectations(t)
}

func TestUsageRepository_Reserve_PendingCountsTowardLimit(t *testing.T) {
	repo, tx := newReservingRepo(t)
	ctx := context.Background()

	tx.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"acct_1", testDay.Start()}).Return(countRow(2))
	tx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pendingRow(false, 1))
	tx.On("Commit", ctx).Return(nil)

	st, err := repo.Reserve(ctx, "acct_1", testDay, "send-9", 3, testNow)
	require.NoError(t, err)
	assert.Equal(t, usage.LimitReached, st)
	tx.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestUsageRepository_Reserve_ReusedSendID(t *testing.T) {
	repo, tx := newReservingRepo(t)
	ctx := context.Background()

	tx.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"acct_1", testDay.Start()}).Return(countRow(0))
	tx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pendingRow(true, 0))
	tx.On("Commit", ctx).Return(nil)

	st, err := repo.Reserve(ctx, "acct_1", testDay, "fixed", 3, testNow)
	require.NoError(t, err)
	assert.Equal(t, usage.DuplicateSend, st)
	tx.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestUsageRepository_Commit_Applied(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUsageRepository(db, new(mockBeginner))
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"acct_1", "send-1"}).Return(countRow(1))

	n, applied, err := repo.Commit(ctx, "acct_1", testDay, "send-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, n)
}

func TestUsageRepository_Commit_NotPendingReturnsCurrent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUsageRepository(db, new(mockBeginner))
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"acct_1", "send-1"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"acct_1", testDay.Start()}).Return(countRow(4))

	n, applied, err := repo.Commit(ctx, "acct_1", testDay, "send-1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 4, n)
}

func TestUsageRepository_Release(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUsageRepository(db, new(mockBeginner))
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"acct_1", "send-1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, repo.Release(ctx, "acct_1", "send-1"))
	db.AssertExpectations(t)
}

func TestUsageRepository_Increment_Error(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUsageRepository(db, new(mockBeginner))
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("deadlock detected")})

	_, err := repo.Increment(ctx, "acct_1", testDay)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestUsageRepository_PurgeBefore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUsageRepository(db, new(mockBeginner))
	ctx := context.Background()
	cutoff := testDay.AddDays(-35)

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{cutoff.Start()}).
		Return(pgconn.NewCommandTag("DELETE 12"), nil)

	n, err := repo.PurgeBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	db.AssertNumberOfCalls(t, "Exec", 2)
}
