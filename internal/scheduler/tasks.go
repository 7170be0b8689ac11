package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
)

// CommissionJobs 佣金相关批处理
type CommissionJobs interface {
	SettleDue(ctx context.Context, now time.Time) (int, error)
	RetryFrozen(ctx context.Context) (int, error)
}

// WithdrawJobs 提现对账
type WithdrawJobs interface {
	ReconcileProcessing(ctx context.Context, olderThan time.Duration) (int, error)
}

// AuditRelay 审计日志投递
type AuditRelay interface {
	RelayAll(ctx context.Context) (int, error)
}

// LedgerVerifier 账本核对
type LedgerVerifier interface {
	VerifyAll(ctx context.Context) ([]int64, error)
}

// TaskHandler 任务处理器
type TaskHandler struct {
	commission CommissionJobs
	withdraw   WithdrawJobs
	relay      AuditRelay
	verifier   LedgerVerifier
	now        func() time.Time
	logger     *zap.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(commission CommissionJobs, withdraw WithdrawJobs, relay AuditRelay, verifier LedgerVerifier, log *zap.Logger) *TaskHandler {
	return &TaskHandler{
		commission: commission,
		withdraw:   withdraw,
		relay:      relay,
		verifier:   verifier,
		now:        time.Now,
		logger:     logger.OrDefault(log).Named("task"),
	}
}

// SettleCommissions 结算已过冻结期的佣金
func (h *TaskHandler) SettleCommissions(ctx context.Context) error {
	n, err := h.commission.SettleDue(ctx, h.now())
	if n > 0 {
		h.logger.Info("commissions settled", zap.Int("count", n))
	}
	return err
}

// RetryFrozenReversals 重试因余额不足挂起的佣金冲正
func (h *TaskHandler) RetryFrozenReversals(ctx context.Context) error {
	n, err := h.commission.RetryFrozen(ctx)
	if n > 0 {
		h.logger.Info("frozen reversals recovered", zap.Int("count", n))
	}
	return err
}

// ReconcileWithdrawals 向打款渠道查询处理中的提现
func (h *TaskHandler) ReconcileWithdrawals(ctx context.Context) error {
	n, err := h.withdraw.ReconcileProcessing(ctx, time.Minute)
	if n > 0 {
		h.logger.Info("withdrawals reconciled", zap.Int("count", n))
	}
	return err
}

// RelayAudit 把未投递的审计日志写入 Redis Stream
func (h *TaskHandler) RelayAudit(ctx context.Context) error {
	_, err := h.relay.RelayAll(ctx)
	return err
}

// VerifyLedgers 核对全部账户余额与流水
func (h *TaskHandler) VerifyLedgers(ctx context.Context) error {
	bad, err := h.verifier.VerifyAll(ctx)
	if len(bad) > 0 {
		h.logger.Error("ledger mismatch", zap.Int64s("distributor_ids", bad))
	}
	return err
}

// Register 按配置注册全部任务
func (h *TaskHandler) Register(s *Scheduler, cfg *config.SchedulerConfig, auditCfg *config.AuditConfig) {
	s.AddTask("settle_commissions", time.Duration(cfg.SettleInterval)*time.Minute, h.SettleCommissions)
	s.AddTask("retry_frozen_reversals", time.Duration(cfg.ReverseInterval)*time.Minute, h.RetryFrozenReversals)
	s.AddTask("reconcile_withdrawals", time.Duration(cfg.ReconcileInterval)*time.Minute, h.ReconcileWithdrawals)
	s.AddTask("verify_ledgers", time.Duration(cfg.VerifyInterval)*time.Minute, h.VerifyLedgers)
	if auditCfg != nil {
		s.AddTask("relay_audit", time.Duration(auditCfg.RelayInterval)*time.Second, h.RelayAudit)
	}
}
