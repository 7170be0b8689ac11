//go:build integration

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dumeirei/mall-ledger/internal/common/cache"
	"github.com/dumeirei/mall-ledger/internal/testutil"
)

// 多实例同时触发同一任务，只有一个实例执行
func TestIntegration_SingleRunAcrossInstances(t *testing.T) {
	rdb := testutil.NewRedisContainer(t)

	var runs int32
	task := &Task{Name: "settle", Interval: time.Minute, Handler: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		s := NewScheduler(cache.NewLocker(rdb), testutil.NewLogger())
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunOnce(task)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	ttl, err := rdb.PTTL(context.Background(), cache.KeyPrefixLock+"task:settle").Result()
	assert.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
