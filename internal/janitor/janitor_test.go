package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/usage"
)

var now = time.Date(2026, 4, 20, 3, 0, 0, 0, time.UTC)

type fakeUsage struct {
	cutoff usage.Day
	rows   int64
	err    error
}

func (f *fakeUsage) PurgeBefore(_ context.Context, cutoff usage.Day) (int64, error) {
	f.cutoff = cutoff
	return f.rows, f.err
}

type fakeLedger struct {
	cutoff time.Time
	rows   int64
	err    error
}

func (f *fakeLedger) PurgeLedgerBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return f.rows, ctx.Err()
}

type recorded struct {
	mu   sync.Mutex
	rows map[string]int64
}

func (r *recorded) RecordPurged(_ context.Context, table string, rows int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows == nil {
		r.rows = map[string]int64{}
	}
	r.rows[table] = rows
}

func TestRun_PurgesBothWithRetention(t *testing.T) {
	u := &fakeUsage{rows: 12}
	l := &fakeLedger{rows: 3}
	rec := &recorded{}
	svc := NewService(u, l, rec, Retention{UsageDays: 35, LedgerDays: 400}, nil)

	report, err := svc.Run(context.Background(), TaskAll, now)
	require.NoError(t, err)

	assert.Equal(t, Report{UsageRows: 12, LedgerRows: 3}, report)
	assert.Equal(t, "2026-03-17", u.cutoff.String(), "35 days kept including today")
	assert.Equal(t, now.AddDate(0, 0, -400), l.cutoff)
	assert.Equal(t, map[string]int64{"usage_counters": 12, "payment_events": 3}, rec.rows)
}

func TestRun_SingleTask(t *testing.T) {
	u := &fakeUsage{rows: 1}
	l := &fakeLedger{rows: 1}
	svc := NewService(u, l, nil, Retention{UsageDays: 2, LedgerDays: 30}, nil)

	report, err := svc.Run(context.Background(), TaskPurgeUsage, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.UsageRows)
	assert.True(t, l.cutoff.IsZero(), "ledger must not be touched")
	assert.Equal(t, "2026-04-19", u.cutoff.String())
}

func TestRun_FailurePropagates(t *testing.T) {
	u := &fakeUsage{err: errors.New("connection reset")}
	svc := NewService(u, &fakeLedger{}, nil, Retention{UsageDays: 35, LedgerDays: 400}, nil)

	_, err := svc.Run(context.Background(), TaskAll, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purging usage")
}

func TestRun_UnknownTask(t *testing.T) {
	svc := NewService(&fakeUsage{}, &fakeLedger{}, nil, Retention{UsageDays: 35, LedgerDays: 400}, nil)
	_, err := svc.Run(context.Background(), Task("vacuum"), now)
	assert.Error(t, err)
}
