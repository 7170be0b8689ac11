// Package scheduler 提供定时任务调度
package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/mall-ledger/internal/common/cache"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
)

// DefaultTaskTimeout 单次任务执行超时
const DefaultTaskTimeout = 5 * time.Minute

// Locker 分布式锁，多实例部署时保证同一任务同一时刻只在一个实例上运行
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*cache.Lock, error)
}

// Scheduler 定时任务调度器
type Scheduler struct {
	tasks   []*Task
	locker  Locker
	timeout time.Duration
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	held map[string]*cache.Lock // 任务名 -> 最近一次获取的锁
}

// Task 定时任务
type Task struct {
	Name     string
	Interval time.Duration
	Handler  func(ctx context.Context) error
}

// NewScheduler 创建调度器，locker 为空时不加锁
func NewScheduler(locker Locker, log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:   make([]*Task, 0),
		locker:  locker,
		timeout: DefaultTaskTimeout,
		logger:  logger.OrDefault(log).Named("scheduler"),
		ctx:     ctx,
		cancel:  cancel,
		held:    make(map[string]*cache.Lock),
	}
}

// AddTask 添加任务，间隔不大于 0 的任务忽略
func (s *Scheduler) AddTask(name string, interval time.Duration, handler func(ctx context.Context) error) {
	if interval <= 0 {
		s.logger.Warn("task disabled", zap.String("task", name))
		return
	}
	s.tasks = append(s.tasks, &Task{
		Name:     name,
		Interval: interval,
		Handler:  handler,
	})
}

// Tasks 已注册的任务
func (s *Scheduler) Tasks() []*Task {
	return s.tasks
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.logger.Info("scheduler starting", zap.Int("tasks", len(s.tasks)))

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
}

// Stop 停止调度器，等待执行中的任务退出后释放本实例持有的任务锁
func (s *Scheduler) Stop() {
	s.logger.Info("scheduler stopping")
	s.cancel()
	s.wg.Wait()
	s.releaseLocks()
	s.logger.Info("scheduler stopped")
}

// releaseLocks 释放持有的锁，使其他实例不必等到锁过期即可接手
func (s *Scheduler) releaseLocks() {
	s.mu.Lock()
	held := s.held
	s.held = make(map[string]*cache.Lock)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for name, lock := range held {
		if err := lock.Release(ctx); err != nil {
			s.logger.Warn("task lock release failed", zap.String("task", name), zap.Error(err))
		}
	}
}

// runTask 运行单个任务
func (s *Scheduler) runTask(task *Task) {
	defer s.wg.Done()

	s.logger.Info("task started", zap.String("task", task.Name), zap.Duration("interval", task.Interval))

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	// 立即执行一次
	s.RunOnce(task)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("task stopped", zap.String("task", task.Name))
			return
		case <-ticker.C:
			s.RunOnce(task)
		}
	}
}

// RunOnce 执行一次任务，锁被其他实例持有时跳过
func (s *Scheduler) RunOnce(task *Task) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	// 运行中锁不主动释放，随任务间隔过期；停止时统一释放
	if s.locker != nil {
		lock, err := s.locker.Acquire(ctx, "task:"+task.Name, task.Interval)
		if err != nil {
			if stderrors.Is(err, cache.ErrLockNotAcquired) {
				s.logger.Debug("task skipped, lock held elsewhere", zap.String("task", task.Name))
			} else {
				s.logger.Error("task lock failed", zap.String("task", task.Name), zap.Error(err))
			}
			return
		}
		s.mu.Lock()
		s.held[task.Name] = lock
		s.mu.Unlock()
	}

	start := time.Now()
	if err := task.Handler(ctx); err != nil {
		s.logger.Error("task failed", zap.String("task", task.Name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	s.logger.Debug("task completed", zap.String("task", task.Name), zap.Duration("elapsed", time.Since(start)))
}
