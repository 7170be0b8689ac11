package scheduler

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/mall-ledger/internal/common/cache"
	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/testutil"
)

func TestScheduler_RunOnceWithLock(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	locker := cache.NewLocker(rdb)

	var runs int32
	task := &Task{Name: "count", Interval: time.Minute, Handler: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}

	a := NewScheduler(locker, testutil.NewLogger())
	b := NewScheduler(locker, testutil.NewLogger())
	a.RunOnce(task)
	b.RunOnce(task)
	a.RunOnce(task)

	// 同一周期内只执行一次
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_RunOnceWithoutLock(t *testing.T) {
	var runs int32
	s := NewScheduler(nil, testutil.NewLogger())
	task := &Task{Name: "count", Interval: time.Minute, Handler: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return stderrors.New("boom")
	}}
	s.RunOnce(task)
	s.RunOnce(task)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(nil, testutil.NewLogger())
	done := make(chan struct{}, 1)
	s.AddTask("tick", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	s.AddTask("disabled", 0, func(ctx context.Context) error { return nil })
	require.Len(t, s.Tasks(), 1)

	s.Start()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	s.Stop()
}

func TestScheduler_StopReleasesLocks(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	locker := cache.NewLocker(rdb)

	var runs int32
	task := &Task{Name: "count", Interval: time.Hour, Handler: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}

	a := NewScheduler(locker, testutil.NewLogger())
	a.RunOnce(task)
	a.Stop()

	// 前一实例停止后，其他实例无需等待锁过期
	b := NewScheduler(locker, testutil.NewLogger())
	b.RunOnce(task)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))

	// 停止时只释放自己持有的锁
	NewScheduler(locker, testutil.NewLogger()).Stop()
	NewScheduler(locker, testutil.NewLogger()).RunOnce(task)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
	b.Stop()
}

type fakeJobs struct {
	settled    int
	frozen     int
	reconciled int
	relayed    int
	unbalanced []int64
	settleAt   time.Time
	olderThan  time.Duration
}

func (f *fakeJobs) SettleDue(ctx context.Context, now time.Time) (int, error) {
	f.settleAt = now
	return f.settled, nil
}

func (f *fakeJobs) RetryFrozen(ctx context.Context) (int, error) { return f.frozen, nil }

func (f *fakeJobs) ReconcileProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	f.olderThan = olderThan
	return f.reconciled, nil
}

func (f *fakeJobs) RelayAll(ctx context.Context) (int, error) { return f.relayed, nil }

func (f *fakeJobs) VerifyAll(ctx context.Context) ([]int64, error) { return f.unbalanced, nil }

func TestTaskHandler(t *testing.T) {
	jobs := &fakeJobs{settled: 3, frozen: 1, reconciled: 2, relayed: 5, unbalanced: []int64{7}}
	h := NewTaskHandler(jobs, jobs, jobs, jobs, testutil.NewLogger())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, h.SettleCommissions(ctx))
	assert.Equal(t, fixed, jobs.settleAt)
	require.NoError(t, h.RetryFrozenReversals(ctx))
	require.NoError(t, h.ReconcileWithdrawals(ctx))
	assert.Equal(t, time.Minute, jobs.olderThan)
	require.NoError(t, h.RelayAudit(ctx))
	require.NoError(t, h.VerifyLedgers(ctx))

	s := NewScheduler(nil, testutil.NewLogger())
	h.Register(s, &config.SchedulerConfig{SettleInterval: 60, ReconcileInterval: 5, ReverseInterval: 30, VerifyInterval: 0}, &config.AuditConfig{RelayInterval: 5})
	names := make([]string, 0, len(s.Tasks()))
	for _, task := range s.Tasks() {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{"settle_commissions", "retry_frozen_reversals", "reconcile_withdrawals", "relay_audit"}, names)
}
