package distribution

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/crypto"
	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	"github.com/dumeirei/mall-ledger/internal/common/tracing"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
	"github.com/dumeirei/mall-ledger/internal/service/ledger"
	"github.com/dumeirei/mall-ledger/pkg/payout"
)

// 提现相关默认值
const (
	DefaultMinWithdraw    = 10.0  // 默认最低提现金额
	DefaultWithdrawFee    = 0.006 // 默认提现手续费比例 0.6%
	DefaultMaxPending     = 5     // 默认最大待处理提现数
	DefaultPayoutTimeout  = 10 * time.Second
	DefaultReconcileAfter = time.Minute // 进入打款中超过该时长才主动查询
)

// WithdrawService 提现服务
//
// 状态流转：待审核 → 已批准/已拒绝；已批准 → 打款中 → 已完成/打款失败。
// 申请时把金额从可提现划入冻结，拒绝或打款失败时冲正该笔划转，完成时冻结金额转为已提现与手续费。
type WithdrawService struct {
	db             *gorm.DB
	withdrawalRepo *repository.WithdrawalRepository
	ledger         *ledger.Service
	audit          *audit.Service
	gateway        payout.Gateway
	cipher         *crypto.AES
	metrics        *metrics.Metrics
	logger         *zap.Logger

	minWithdraw decimal.Decimal
	feeRate     decimal.Decimal
	maxPending  int64
	timeout     time.Duration
	maxAttempts int
}

// NewWithdrawService 创建提现服务
func NewWithdrawService(
	db *gorm.DB,
	withdrawalRepo *repository.WithdrawalRepository,
	ledgerSvc *ledger.Service,
	auditSvc *audit.Service,
	gateway payout.Gateway,
	cipher *crypto.AES,
	cfg *config.DistributionConfig,
	payoutCfg *config.PayoutConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *WithdrawService {
	s := &WithdrawService{
		db:             db,
		withdrawalRepo: withdrawalRepo,
		ledger:         ledgerSvc,
		audit:          auditSvc,
		gateway:        gateway,
		cipher:         cipher,
		metrics:        m,
		logger:         logger.OrDefault(log).Named("withdraw"),
		minWithdraw:    decimal.NewFromFloat(DefaultMinWithdraw),
		feeRate:        decimal.NewFromFloat(DefaultWithdrawFee),
		maxPending:     DefaultMaxPending,
		timeout:        DefaultPayoutTimeout,
	}
	if cfg != nil {
		s.SetConfig(cfg.MinWithdrawAmount, cfg.WithdrawFeeRate, cfg.MaxPendingWithdraw)
	}
	if payoutCfg != nil {
		if payoutCfg.Timeout > 0 {
			s.timeout = payoutCfg.RequestTimeout()
		}
		s.maxAttempts = payoutCfg.MaxQueryAttempts
	}
	return s
}

// SetConfig 设置提现配置
func (s *WithdrawService) SetConfig(minWithdraw, feeRate float64, maxPending int) {
	s.minWithdraw = decimal.NewFromFloat(minWithdraw)
	s.feeRate = decimal.NewFromFloat(feeRate)
	if maxPending > 0 {
		s.maxPending = int64(maxPending)
	}
}

// ApplyRequest 提现申请
type ApplyRequest struct {
	DistributorID  int64              `json:"-"`
	Amount         decimal.Decimal    `json:"amount" binding:"required"`
	WithdrawMethod string             `json:"withdraw_method" binding:"required,oneof=wechat alipay bank"`
	Account        payout.AccountInfo `json:"account" binding:"required"`
}

// Validate 校验申请参数
func (r *ApplyRequest) Validate(minWithdraw decimal.Decimal) error {
	if r.DistributorID <= 0 {
		return errors.ErrInvalidParams.WithMessage("分销商ID无效")
	}
	if !models.ValidWithdrawMethod(r.WithdrawMethod) {
		return errors.ErrWithdrawMethod
	}
	if !r.Amount.IsPositive() || !r.Amount.Equal(utils.RoundMoney(r.Amount)) {
		return errors.ErrInvalidAmount
	}
	if r.Amount.LessThan(minWithdraw) {
		return errors.ErrWithdrawBelowMinimum.WithMessage(fmt.Sprintf("最低提现金额为%s元", minWithdraw.StringFixed(2)))
	}
	if r.Account.Name == "" {
		return errors.ErrInvalidParams.WithMessage("收款人姓名不能为空")
	}
	switch r.WithdrawMethod {
	case models.WithdrawMethodWechat:
		if r.Account.OpenID == "" {
			return errors.ErrInvalidParams.WithMessage("微信收款需要 openid")
		}
	case models.WithdrawMethodBank:
		if r.Account.AccountNo == "" || r.Account.BankName == "" {
			return errors.ErrInvalidParams.WithMessage("银行卡号和开户行不能为空")
		}
	default:
		if r.Account.AccountNo == "" {
			return errors.ErrInvalidParams.WithMessage("收款账号不能为空")
		}
	}
	return nil
}

// Fee 按费率计算手续费
func (s *WithdrawService) Fee(amount decimal.Decimal) decimal.Decimal {
	return utils.RoundMoney(amount.Mul(s.feeRate))
}

// Apply 申请提现，同一事务内冻结金额、创建提现单、写审计
func (s *WithdrawService) Apply(ctx context.Context, req *ApplyRequest) (w *models.Withdrawal, err error) {
	// 验证申请参数
	if err := req.Validate(s.minWithdraw); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "withdraw.Apply", tracing.WithDistributorID(req.DistributorID))
	defer func() { tracing.End(span, err) }()

	// 检查分销商状态
	d, err := s.ledger.GetAccount(ctx, req.DistributorID)
	if err != nil {
		return nil, err
	}
	if !d.IsActive() {
		return nil, errors.ErrDistributorDisabled
	}

	// 加密收款账户
	account, err := json.Marshal(req.Account)
	if err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}
	encrypted, err := s.cipher.Encrypt(string(account))
	if err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}

	// 计算手续费和实际到账金额
	fee := s.Fee(req.Amount)
	w = &models.Withdrawal{
		WithdrawalNo:         utils.GenerateNo(utils.PrefixWithdrawal),
		DistributorID:        d.ID,
		UserID:               d.UserID,
		Amount:               req.Amount,
		Fee:                  fee,
		ActualAmount:         req.Amount.Sub(fee),
		WithdrawMethod:       req.WithdrawMethod,
		AccountInfoEncrypted: encrypted,
		AccountMask:          crypto.MaskAccountNo(accountNo(&req.Account)),
		Status:               models.WithdrawalStatusPending,
		AppliedAt:            time.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 划转会锁分销商行，之后的计数与创建都在锁内
		entries, err := s.ledger.TransferTx(ctx, tx, &ledger.TransferRequest{
			DistributorID: d.ID,
			From:          models.BucketAvailable,
			To:            models.BucketFrozen,
			Amount:        req.Amount,
			Type:          models.EntryTypeWithdrawHold,
			RefType:       models.RefTypeWithdrawal,
			RefNo:         w.WithdrawalNo,
			Reason:        "提现冻结",
			OperatorID:    d.UserID,
		})
		if err != nil {
			return err
		}

		// 检查未完结提现数量
		count, err := s.withdrawalRepo.CountOutstanding(ctx, tx, d.ID)
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if count >= s.maxPending {
			return errors.ErrWithdrawTooMany
		}

		// 创建提现记录
		w.HoldEntryID = entries[0].ID
		if err := s.withdrawalRepo.Create(ctx, tx, w); err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		return s.record(ctx, tx, models.AuditWithdrawalApplied, w, nil, models.WithdrawalStatusPending, d.UserID, map[string]interface{}{
			"fee":           fee.StringFixed(2),
			"actual_amount": w.ActualAmount.StringFixed(2),
			"method":        w.WithdrawMethod,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWithdrawalTransition("none", models.WithdrawalStatusName(models.WithdrawalStatusPending))
	s.logger.Info("withdrawal applied",
		logger.DistributorID(d.ID),
		logger.WithdrawalNo(w.WithdrawalNo),
		logger.Amount(w.Amount),
	)
	return w, nil
}

// Approve 审核通过，不变动余额
func (s *WithdrawService) Approve(ctx context.Context, withdrawalID, operatorID int64) (*models.Withdrawal, error) {
	return s.move(ctx, withdrawalID, models.WithdrawalStatusApproved, func(tx *gorm.DB, w *models.Withdrawal) (*repository.WithdrawalUpdate, error) {
		now := time.Now()
		return &repository.WithdrawalUpdate{OperatorID: &operatorID, AuditedAt: &now}, nil
	}, operatorID, models.AuditWithdrawalApproved)
}

// Reject 审核拒绝，冲正冻结划转使金额回到可提现余额
func (s *WithdrawService) Reject(ctx context.Context, withdrawalID, operatorID int64, reason string) (*models.Withdrawal, error) {
	if reason == "" {
		return nil, errors.ErrInvalidParams.WithMessage("拒绝原因不能为空")
	}
	return s.move(ctx, withdrawalID, models.WithdrawalStatusRejected, func(tx *gorm.DB, w *models.Withdrawal) (*repository.WithdrawalUpdate, error) {
		// 拒绝需要解冻余额
		release, err := s.releaseHold(ctx, tx, w, operatorID, "提现拒绝")
		if err != nil {
			return nil, err
		}
		now := time.Now()
		return &repository.WithdrawalUpdate{
			OperatorID:     &operatorID,
			RejectReason:   &reason,
			ReleaseEntryID: &release,
			AuditedAt:      &now,
		}, nil
	}, operatorID, models.AuditWithdrawalRejected)
}

// Process 发起打款
//
// 先提交打款中状态，再调用渠道。渠道结果不确定（受理中、超时、网络错误）时保持打款中并返回可重试的 ErrGatewayError，由 Sync 对账。
func (s *WithdrawService) Process(ctx context.Context, withdrawalID, operatorID int64) (*models.Withdrawal, error) {
	w, err := s.move(ctx, withdrawalID, models.WithdrawalStatusProcessing, func(tx *gorm.DB, w *models.Withdrawal) (*repository.WithdrawalUpdate, error) {
		now := time.Now()
		return &repository.WithdrawalUpdate{OperatorID: &operatorID, ProcessedAt: &now}, nil
	}, operatorID, models.AuditWithdrawalProcessing)
	if err != nil {
		return nil, err
	}

	// 调用渠道打款
	res, err := s.transfer(ctx, w)
	return s.resolve(ctx, w, res, err)
}

// Sync 按提现单号查询渠道结果并落地，渠道无记录时按同一单号重新发起转账
func (s *WithdrawService) Sync(ctx context.Context, withdrawalID int64) (*models.Withdrawal, error) {
	w, err := s.GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.IsTerminal() {
		return w, nil
	}
	if w.Status != models.WithdrawalStatusProcessing {
		return nil, errors.ErrWithdrawalStatus
	}

	// 查询渠道结果
	res, err := s.query(ctx, w)
	switch {
	case stderrors.Is(err, payout.ErrTransferNotFound):
		// 渠道无记录，按同一单号重发
		res, err = s.transfer(ctx, w)
	case err != nil:
		// 查询失败不代表打款失败，保持打款中
		s.logger.Warn("payout query failed",
			logger.WithdrawalNo(w.WithdrawalNo),
			zap.Error(err),
		)
		return w, errors.ErrGatewayError.WithError(err)
	}
	return s.resolve(ctx, w, res, err)
}

// ReconcileProcessing 对账长时间处于打款中的提现，返回已落地终态的条数
func (s *WithdrawService) ReconcileProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultReconcileAfter
	}
	ids, err := s.withdrawalRepo.ListIDsByStatus(ctx, models.WithdrawalStatusProcessing, time.Now().Add(-olderThan), batchSize)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}
	resolved := 0
	for _, id := range ids {
		// 检查渠道尝试次数
		if s.maxAttempts > 0 {
			w, err := s.GetByID(ctx, id)
			if err != nil {
				continue
			}
			if w.GatewayAttempts >= s.maxAttempts {
				// 超过尝试次数的单据转人工，不再自动重发
				s.logger.Error("withdrawal needs manual reconcile",
					logger.WithdrawalNo(w.WithdrawalNo),
					zap.Int("attempts", w.GatewayAttempts),
				)
				continue
			}
		}
		w, err := s.Sync(ctx, id)
		if err != nil {
			if !errors.IsRetryable(err) {
				s.logger.Warn("reconcile withdrawal failed", zap.Int64("withdrawal_id", id), zap.Error(err))
			}
			continue
		}
		if w.IsTerminal() {
			resolved++
		}
	}
	return resolved, nil
}

// resolve 根据转账结果完成或失败；结果不确定时返回 ErrGatewayError
//
// 只有转账请求被明确拒绝才视为失败，查询接口的错误不经过这里。
func (s *WithdrawService) resolve(ctx context.Context, w *models.Withdrawal, res *payout.TransferResult, callErr error) (*models.Withdrawal, error) {
	var reqErr *payout.RequestError
	switch {
	case stderrors.As(callErr, &reqErr) && reqErr.Rejected():
		return s.fail(ctx, w.ID, fmt.Sprintf("渠道拒绝请求(%d)", reqErr.StatusCode))
	case callErr != nil:
		s.logger.Warn("payout outcome unknown",
			logger.WithdrawalNo(w.WithdrawalNo),
			zap.Error(callErr),
		)
		return w, errors.ErrGatewayError.WithError(callErr)
	case res.Succeeded():
		return s.complete(ctx, w.ID, res)
	case res.Failed():
		reason := res.FailReason
		if reason == "" {
			reason = res.Status
		}
		return s.fail(ctx, w.ID, reason)
	default:
		return w, errors.ErrGatewayError.WithMessage("打款处理中，结果待确认")
	}
}

// complete 打款成功：冻结金额转为已提现（实际到账）与手续费
func (s *WithdrawService) complete(ctx context.Context, withdrawalID int64, res *payout.TransferResult) (*models.Withdrawal, error) {
	var done *models.Withdrawal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.lock(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		// 已完成的直接返回
		if w.Status == models.WithdrawalStatusCompleted {
			done = w
			return nil
		}
		if !models.CanTransition(w.Status, models.WithdrawalStatusCompleted) {
			return errors.ErrWithdrawalStatus
		}

		// 扣除冻结余额，增加已提现金额和手续费
		actual, fee, err := s.settleAmounts(w, res)
		if err != nil {
			return err
		}
		lines := []ledger.Line{{Bucket: models.BucketFrozen, Amount: w.Amount.Neg()}}
		if actual.IsPositive() {
			lines = append(lines, ledger.Line{Bucket: models.BucketWithdrawn, Amount: actual})
		}
		if fee.IsPositive() {
			lines = append(lines, ledger.Line{Bucket: models.BucketFee, Amount: fee})
		}
		entries, err := s.ledger.PostTx(ctx, tx, &ledger.Journal{
			DistributorID: w.DistributorID,
			Type:          models.EntryTypeWithdrawPayout,
			RefType:       models.RefTypeWithdrawal,
			RefNo:         w.WithdrawalNo,
			Reason:        "提现到账",
			Lines:         lines,
		})
		if err != nil {
			return err
		}

		// 更新提现状态
		now := time.Now()
		transactionID := res.TransferID
		upd := &repository.WithdrawalUpdate{
			Status:        models.WithdrawalStatusCompleted,
			TransactionID: &transactionID,
			ActualAmount:  &actual,
			Fee:           &fee,
			PayoutEntryID: &entries[0].ID,
			CompletedAt:   &now,
		}
		if err := s.withdrawalRepo.Transition(ctx, tx, w.ID, w.Status, upd); err != nil {
			return transitionError(err)
		}
		if err := s.record(ctx, tx, models.AuditWithdrawalCompleted, w, audit.StatusPtr(w.Status), models.WithdrawalStatusCompleted, 0, map[string]interface{}{
			"transaction_id": transactionID,
			"actual_amount":  actual.StringFixed(2),
			"fee":            fee.StringFixed(2),
		}); err != nil {
			return err
		}

		w.Status = models.WithdrawalStatusCompleted
		w.TransactionID = &transactionID
		w.ActualAmount = actual
		w.Fee = fee
		w.PayoutEntryID = &entries[0].ID
		w.CompletedAt = &now
		done = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWithdrawalTransition(models.WithdrawalStatusName(models.WithdrawalStatusProcessing), models.WithdrawalStatusName(models.WithdrawalStatusCompleted))
	s.logger.Info("withdrawal completed",
		logger.WithdrawalNo(done.WithdrawalNo),
		logger.Amount(done.ActualAmount),
		zap.String("fee", done.Fee.StringFixed(2)),
	)
	return done, nil
}

// settleAmounts 以渠道返回的到账金额为准，手续费取申请金额与到账金额之差
func (s *WithdrawService) settleAmounts(w *models.Withdrawal, res *payout.TransferResult) (decimal.Decimal, decimal.Decimal, error) {
	actual := w.ActualAmount
	switch {
	case res.ActualAmount != nil:
		actual = utils.RoundMoney(*res.ActualAmount)
	case res.Fee != nil:
		actual = w.Amount.Sub(utils.RoundMoney(*res.Fee))
	}
	if actual.IsNegative() || actual.GreaterThan(w.Amount) {
		return decimal.Zero, decimal.Zero, errors.ErrGatewayError.WithMessage("渠道返回的到账金额异常")
	}
	fee := w.Amount.Sub(actual)
	if res.Fee != nil && !res.Fee.Equal(fee) {
		s.logger.Warn("gateway fee differs from amount minus actual",
			logger.WithdrawalNo(w.WithdrawalNo),
			zap.String("gateway_fee", res.Fee.StringFixed(2)),
			zap.String("fee", fee.StringFixed(2)),
		)
	}
	return actual, fee, nil
}

// fail 打款失败：冲正冻结划转
func (s *WithdrawService) fail(ctx context.Context, withdrawalID int64, reason string) (*models.Withdrawal, error) {
	w, err := s.move(ctx, withdrawalID, models.WithdrawalStatusFailed, func(tx *gorm.DB, w *models.Withdrawal) (*repository.WithdrawalUpdate, error) {
		// 解冻余额
		release, err := s.releaseHold(ctx, tx, w, 0, "打款失败")
		if err != nil {
			return nil, err
		}
		now := time.Now()
		return &repository.WithdrawalUpdate{
			FailReason:     &reason,
			ReleaseEntryID: &release,
			CompletedAt:    &now,
		}, nil
	}, 0, models.AuditWithdrawalFailed)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("withdrawal payout failed", logger.WithdrawalNo(w.WithdrawalNo), zap.String("reason", reason))
	return w, nil
}

// move 锁定提现单并迁移状态；build 返回需要同时更新的字段，可在事务内记账
func (s *WithdrawService) move(
	ctx context.Context,
	withdrawalID int64,
	to int8,
	build func(tx *gorm.DB, w *models.Withdrawal) (*repository.WithdrawalUpdate, error),
	operatorID int64,
	event string,
) (w *models.Withdrawal, err error) {
	ctx, span := tracing.Start(ctx, "withdraw.Transition", tracing.WithOperation(models.WithdrawalStatusName(to)))
	defer func() { tracing.End(span, err) }()

	var from int8
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁定提现单并校验状态迁移
		locked, err := s.lock(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if !models.CanTransition(locked.Status, to) {
			return errors.ErrWithdrawalStatus.WithMessage(fmt.Sprintf("提现单当前状态为%s，不能变更为%s",
				models.WithdrawalStatusName(locked.Status), models.WithdrawalStatusName(to)))
		}
		from = locked.Status

		// 记账并更新状态
		upd, err := build(tx, locked)
		if err != nil {
			return err
		}
		upd.Status = to
		if err := s.withdrawalRepo.Transition(ctx, tx, locked.ID, from, upd); err != nil {
			return transitionError(err)
		}
		// 写审计
		if err := s.record(ctx, tx, event, locked, audit.StatusPtr(from), to, operatorID, transitionPayload(upd)); err != nil {
			return err
		}

		applyUpdate(locked, upd)
		w = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWithdrawalTransition(models.WithdrawalStatusName(from), models.WithdrawalStatusName(to))
	s.logger.Info("withdrawal transition",
		logger.WithdrawalNo(w.WithdrawalNo),
		zap.String("from", models.WithdrawalStatusName(from)),
		zap.String("to", models.WithdrawalStatusName(to)),
		logger.OperatorID(operatorID),
	)
	return w, nil
}

// releaseHold 冲正申请时的冻结划转，返回回到可提现余额的流水 ID
func (s *WithdrawService) releaseHold(ctx context.Context, tx *gorm.DB, w *models.Withdrawal, operatorID int64, reason string) (int64, error) {
	entries, err := s.ledger.ReleaseHoldTx(ctx, tx, w.HoldEntryID, operatorID, reason)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Bucket == models.BucketAvailable {
			return e.ID, nil
		}
	}
	return entries[0].ID, nil
}

func (s *WithdrawService) transfer(ctx context.Context, w *models.Withdrawal) (res *payout.TransferResult, err error) {
	// 解密收款账户
	plain, err := s.cipher.Decrypt(w.AccountInfoEncrypted)
	if err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}
	var account payout.AccountInfo
	if err := json.Unmarshal([]byte(plain), &account); err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}

	ctx, span := tracing.Start(ctx, "payout.Transfer", tracing.WithWithdrawalNo(w.WithdrawalNo))
	defer func() { tracing.End(span, err) }()

	// 先记尝试次数，调用结果未知时也计入
	if err := s.withdrawalRepo.IncrAttempts(ctx, w.ID); err != nil {
		s.logger.Warn("record payout attempt failed", logger.WithdrawalNo(w.WithdrawalNo), zap.Error(err))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err = s.gateway.Transfer(callCtx, &payout.TransferRequest{
		OutBillNo: w.WithdrawalNo,
		Amount:    w.Amount,
		Method:    w.WithdrawMethod,
		Account:   account,
		Remark:    "佣金提现",
	})
	s.metrics.RecordPayout("transfer", payoutResult(res, err), time.Since(start))
	return res, err
}

func (s *WithdrawService) query(ctx context.Context, w *models.Withdrawal) (res *payout.TransferResult, err error) {
	ctx, span := tracing.Start(ctx, "payout.Query", tracing.WithWithdrawalNo(w.WithdrawalNo))
	defer func() { tracing.End(span, err) }()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err = s.gateway.QueryTransfer(callCtx, w.WithdrawalNo)
	s.metrics.RecordPayout("query", payoutResult(res, err), time.Since(start))
	return res, err
}

// GetByID 获取提现单
func (s *WithdrawService) GetByID(ctx context.Context, id int64) (*models.Withdrawal, error) {
	w, err := s.withdrawalRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrWithdrawalNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return w, nil
}

// GetByNo 根据提现单号获取提现单
func (s *WithdrawService) GetByNo(ctx context.Context, withdrawalNo string) (*models.Withdrawal, error) {
	w, err := s.withdrawalRepo.GetByWithdrawalNo(ctx, withdrawalNo)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrWithdrawalNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return w, nil
}

// ListByDistributor 分销商的提现记录
func (s *WithdrawService) ListByDistributor(ctx context.Context, distributorID int64, page *utils.Pagination) ([]*models.Withdrawal, int64, error) {
	return s.List(ctx, &repository.WithdrawalFilter{DistributorID: distributorID}, page)
}

// List 分页查询提现记录
func (s *WithdrawService) List(ctx context.Context, filter *repository.WithdrawalFilter, page *utils.Pagination) ([]*models.Withdrawal, int64, error) {
	page.Normalize()
	list, total, err := s.withdrawalRepo.List(ctx, filter, page.Offset(), page.PageSize)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return list, total, nil
}

func (s *WithdrawService) lock(ctx context.Context, tx *gorm.DB, id int64) (*models.Withdrawal, error) {
	w, err := s.withdrawalRepo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrWithdrawalNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return w, nil
}

func (s *WithdrawService) record(ctx context.Context, tx *gorm.DB, event string, w *models.Withdrawal, from *int8, to int8, operatorID int64, payload map[string]interface{}) error {
	_, err := s.audit.RecordTx(ctx, tx, &audit.Event{
		Type:          event,
		DistributorID: w.DistributorID,
		TargetType:    models.AuditTargetWithdrawal,
		TargetID:      w.ID,
		TargetNo:      w.WithdrawalNo,
		FromStatus:    from,
		ToStatus:      audit.StatusPtr(to),
		Amount:        w.Amount,
		OperatorID:    operatorID,
		Payload:       payload,
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

func transitionPayload(u *repository.WithdrawalUpdate) map[string]interface{} {
	p := map[string]interface{}{}
	if u.RejectReason != nil {
		p["reject_reason"] = *u.RejectReason
	}
	if u.FailReason != nil {
		p["fail_reason"] = *u.FailReason
	}
	if u.ReleaseEntryID != nil {
		p["release_entry_id"] = *u.ReleaseEntryID
	}
	return p
}

func applyUpdate(w *models.Withdrawal, u *repository.WithdrawalUpdate) {
	w.Status = u.Status
	if u.OperatorID != nil {
		w.OperatorID = u.OperatorID
	}
	if u.RejectReason != nil {
		w.RejectReason = u.RejectReason
	}
	if u.FailReason != nil {
		w.FailReason = u.FailReason
	}
	if u.ReleaseEntryID != nil {
		w.ReleaseEntryID = u.ReleaseEntryID
	}
	if u.AuditedAt != nil {
		w.AuditedAt = u.AuditedAt
	}
	if u.ProcessedAt != nil {
		w.ProcessedAt = u.ProcessedAt
	}
	if u.CompletedAt != nil {
		w.CompletedAt = u.CompletedAt
	}
}

func transitionError(err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.ErrWithdrawalStatus
	}
	return errors.ErrDatabaseError.WithError(err)
}

func payoutResult(res *payout.TransferResult, err error) string {
	switch {
	case stderrors.Is(err, payout.ErrTransferNotFound):
		return "not_found"
	case err != nil:
		return "error"
	case res.Succeeded():
		return "success"
	case res.Failed():
		return "failed"
	}
	return "pending"
}

func accountNo(a *payout.AccountInfo) string {
	if a.AccountNo != "" {
		return a.AccountNo
	}
	return a.OpenID
}
