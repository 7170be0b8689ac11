// Package ledger 分销商余额账本
//
// 分销商余额列只由本包写入。每次变动在同一事务内完成：
// 行锁读取余额、计算新余额、写回余额、追加流水、写审计日志。
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	"github.com/dumeirei/mall-ledger/internal/common/tracing"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
)

// Mutation 单科目余额变动
type Mutation struct {
	DistributorID int64
	Bucket        models.Bucket // 为空时为可提现余额
	Amount        decimal.Decimal
	Type          string
	RefType       string
	RefNo         string
	Reason        string
	OperatorID    int64
}

// Validate 校验变动参数
func (m *Mutation) Validate() error {
	if m.DistributorID <= 0 {
		return errors.ErrInvalidParams.WithMessage("分销商ID无效")
	}
	if m.Bucket != "" && !m.Bucket.Valid() {
		return errors.ErrInvalidParams.WithMessage("余额科目无效")
	}
	if !m.Amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !m.Amount.Equal(utils.RoundMoney(m.Amount)) {
		return errors.ErrInvalidAmount.WithMessage("金额最多两位小数")
	}
	return nil
}

func (m *Mutation) bucket() models.Bucket {
	if m.Bucket == "" {
		return models.BucketAvailable
	}
	return m.Bucket
}

// TransferRequest 科目间划转（如结算：待结算 → 可提现；冻结：可提现 → 冻结）
type TransferRequest struct {
	DistributorID int64
	From          models.Bucket
	To            models.Bucket
	Amount        decimal.Decimal
	Type          string
	RefType       string
	RefNo         string
	Reason        string
	OperatorID    int64
}

// Validate 校验划转参数
func (r *TransferRequest) Validate() error {
	if r.DistributorID <= 0 {
		return errors.ErrInvalidParams.WithMessage("分销商ID无效")
	}
	if !r.From.Valid() || !r.To.Valid() || r.From == r.To {
		return errors.ErrInvalidParams.WithMessage("划转科目无效")
	}
	if !r.Amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !r.Amount.Equal(utils.RoundMoney(r.Amount)) {
		return errors.ErrInvalidAmount.WithMessage("金额最多两位小数")
	}
	return nil
}

// Line 记账分录的一行，Amount 带符号
type Line struct {
	Bucket models.Bucket
	Amount decimal.Decimal
}

// Journal 一组在同一行锁下记账的分录，共用 TxnNo
type Journal struct {
	DistributorID int64
	Type          string
	RefType       string
	RefNo         string
	Reason        string
	OperatorID    int64
	AuditType     string
	Lines         []Line

	reversalOf []int64
}

// Validate 校验分录
func (j *Journal) Validate() error {
	if j.DistributorID <= 0 {
		return errors.ErrInvalidParams.WithMessage("分销商ID无效")
	}
	if j.Type == "" {
		return errors.ErrInvalidParams.WithMessage("流水类型不能为空")
	}
	if len(j.Lines) == 0 {
		return errors.ErrInvalidParams.WithMessage("分录不能为空")
	}
	for _, l := range j.Lines {
		if !l.Bucket.Valid() {
			return errors.ErrInvalidParams.WithMessage("余额科目无效")
		}
		if l.Amount.IsZero() {
			return errors.ErrInvalidAmount
		}
	}
	return nil
}

// Service 账本服务
type Service struct {
	db              *gorm.DB
	distributorRepo *repository.DistributorRepository
	entryRepo       *repository.LedgerEntryRepository
	withdrawalRepo  *repository.WithdrawalRepository
	audit           *audit.Service
	metrics         *metrics.Metrics
	logger          *zap.Logger
}

// NewService 创建账本服务
func NewService(
	db *gorm.DB,
	distributorRepo *repository.DistributorRepository,
	entryRepo *repository.LedgerEntryRepository,
	withdrawalRepo *repository.WithdrawalRepository,
	auditSvc *audit.Service,
	m *metrics.Metrics,
	log *zap.Logger,
) *Service {
	return &Service{
		db:              db,
		distributorRepo: distributorRepo,
		entryRepo:       entryRepo,
		withdrawalRepo:  withdrawalRepo,
		audit:           auditSvc,
		metrics:         m,
		logger:          logger.OrDefault(log).Named("ledger"),
	}
}

// Credit 增加科目余额（默认可提现余额）
func (s *Service) Credit(ctx context.Context, m *Mutation) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, m)
		return err
	})
	return entry, err
}

// CreditTx 在调用方事务内增加科目余额
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, m *Mutation) (*models.LedgerEntry, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	entries, err := s.PostTx(ctx, tx, &Journal{
		DistributorID: m.DistributorID,
		Type:          entryType(m.Type),
		RefType:       m.RefType,
		RefNo:         m.RefNo,
		Reason:        m.Reason,
		OperatorID:    m.OperatorID,
		AuditType:     models.AuditLedgerCredit,
		Lines:         []Line{{Bucket: m.bucket(), Amount: m.Amount}},
	})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// Debit 减少科目余额（默认可提现余额），余额不足时返回 ErrBalanceInsufficient
func (s *Service) Debit(ctx context.Context, m *Mutation) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.DebitTx(ctx, tx, m)
		return err
	})
	return entry, err
}

// DebitTx 在调用方事务内减少科目余额
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, m *Mutation) (*models.LedgerEntry, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	entries, err := s.PostTx(ctx, tx, &Journal{
		DistributorID: m.DistributorID,
		Type:          entryType(m.Type),
		RefType:       m.RefType,
		RefNo:         m.RefNo,
		Reason:        m.Reason,
		OperatorID:    m.OperatorID,
		AuditType:     models.AuditLedgerDebit,
		Lines:         []Line{{Bucket: m.bucket(), Amount: m.Amount.Neg()}},
	})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// Transfer 科目间划转，返回 [转出, 转入] 两条流水
func (s *Service) Transfer(ctx context.Context, req *TransferRequest) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		entries, err = s.TransferTx(ctx, tx, req)
		return err
	})
	return entries, err
}

// TransferTx 在调用方事务内划转
func (s *Service) TransferTx(ctx context.Context, tx *gorm.DB, req *TransferRequest) ([]*models.LedgerEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.PostTx(ctx, tx, &Journal{
		DistributorID: req.DistributorID,
		Type:          entryType(req.Type),
		RefType:       req.RefType,
		RefNo:         req.RefNo,
		Reason:        req.Reason,
		OperatorID:    req.OperatorID,
		AuditType:     models.AuditLedgerTxn,
		Lines: []Line{
			{Bucket: req.From, Amount: req.Amount.Neg()},
			{Bucket: req.To, Amount: req.Amount},
		},
	})
}

// Adjust 人工调账，只能调整待结算与可提现余额
func (s *Service) Adjust(ctx context.Context, m *Mutation, credit bool) (*models.LedgerEntry, error) {
	if !m.bucket().Adjustable() {
		return nil, errors.ErrBucketNotAdjustable
	}
	adj := *m
	adj.Type = models.EntryTypeManualAdjust
	if adj.RefType == "" {
		adj.RefType = models.RefTypeManual
	}
	if credit {
		return s.Credit(ctx, &adj)
	}
	return s.Debit(ctx, &adj)
}

// Reverse 冲正流水所在的整组变动，同一流水重复冲正返回 ErrAlreadyReversed
func (s *Service) Reverse(ctx context.Context, entryID, operatorID int64, reason string) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		entries, err = s.ReverseTx(ctx, tx, entryID, operatorID, reason)
		return err
	})
	return entries, err
}

// ReverseTx 在调用方事务内冲正，佣金与提现流程的流水不允许人工冲正
func (s *Service) ReverseTx(ctx context.Context, tx *gorm.DB, entryID, operatorID int64, reason string) ([]*models.LedgerEntry, error) {
	entry, err := s.getEntry(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.WorkflowOwned() {
		return nil, errors.ErrReversalNotAllowed.WithMessage("业务流水只能由对应业务流程冲回")
	}
	return s.reverseEntry(ctx, tx, entry, operatorID, reason)
}

// ReleaseHoldTx 冲正提现冻结流水，仅供提现流程在拒绝或打款失败时调用
func (s *Service) ReleaseHoldTx(ctx context.Context, tx *gorm.DB, holdEntryID, operatorID int64, reason string) ([]*models.LedgerEntry, error) {
	entry, err := s.getEntry(ctx, tx, holdEntryID)
	if err != nil {
		return nil, err
	}
	if entry.Type != models.EntryTypeWithdrawHold {
		return nil, errors.ErrReversalNotAllowed.WithMessage("不是提现冻结流水")
	}
	return s.reverseEntry(ctx, tx, entry, operatorID, reason)
}

func (s *Service) getEntry(ctx context.Context, tx *gorm.DB, entryID int64) (*models.LedgerEntry, error) {
	entry, err := s.entryRepo.GetByID(ctx, tx, entryID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrLedgerEntryNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if entry.IsReversal() {
		return nil, errors.ErrReversalNotAllowed
	}
	return entry, nil
}

func (s *Service) reverseEntry(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry, operatorID int64, reason string) ([]*models.LedgerEntry, error) {
	// 先锁分销商行，使并发冲正串行化
	if _, err := s.lockDistributor(ctx, tx, entry.DistributorID); err != nil {
		return nil, err
	}

	// 取同组流水，整组反向记账
	group, err := s.entryRepo.ListByTxnNo(ctx, tx, entry.TxnNo)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	journal := &Journal{
		DistributorID: entry.DistributorID,
		Type:          models.EntryTypeReversal,
		RefType:       entry.RefType,
		RefNo:         entry.RefNo,
		Reason:        reason,
		OperatorID:    operatorID,
		AuditType:     models.AuditLedgerReverse,
	}
	for _, e := range group {
		reversed, err := s.entryRepo.ExistsReversalOf(ctx, tx, e.ID)
		if err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		if reversed {
			return nil, errors.ErrAlreadyReversed
		}
		journal.Lines = append(journal.Lines, Line{Bucket: e.Bucket, Amount: e.Amount.Neg()})
		journal.reversalOf = append(journal.reversalOf, e.ID)
	}
	if journal.Reason == "" {
		journal.Reason = fmt.Sprintf("冲正流水 %d", entry.ID)
	}

	// 并发冲正由 reversal_of 唯一索引兜底
	entries, err := s.PostTx(ctx, tx, journal)
	if err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.ErrAlreadyReversed
		}
		return nil, err
	}
	return entries, nil
}

// PostTx 在调用方事务内按分录记账，任一科目余额变为负数时整组失败
func (s *Service) PostTx(ctx context.Context, tx *gorm.DB, j *Journal) (entries []*models.LedgerEntry, err error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "ledger.Post",
		tracing.WithDistributorID(j.DistributorID),
		tracing.WithOperation(j.Type),
	)
	defer func() { tracing.End(span, err) }()

	// 锁定分销商行
	d, err := s.lockDistributor(ctx, tx, j.DistributorID)
	if err != nil {
		return nil, err
	}

	// 逐行计算余额，任一科目透支则整组失败
	txnNo := uuid.NewString()
	balances := d.Balances
	entries = make([]*models.LedgerEntry, 0, len(j.Lines))
	for i, l := range j.Lines {
		before := balances.Get(l.Bucket)
		after := before.Add(l.Amount)
		if after.IsNegative() {
			return nil, errors.ErrBalanceInsufficient.WithMessage(
				fmt.Sprintf("%s余额不足，当前: %s", bucketLabel(l.Bucket), before.StringFixed(2)))
		}
		balances.Set(l.Bucket, after)

		entry := &models.LedgerEntry{
			TxnNo:         txnNo,
			DistributorID: j.DistributorID,
			Bucket:        l.Bucket,
			Type:          j.Type,
			Amount:        l.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			RefType:       j.RefType,
			RefNo:         j.RefNo,
			Reason:        j.Reason,
			OperatorID:    j.OperatorID,
		}
		if i < len(j.reversalOf) {
			entry.ReversalOf = utils.Int64Ptr(j.reversalOf[i])
		}
		entries = append(entries, entry)
	}

	// 更新余额并写流水
	if err := s.distributorRepo.ApplyBalance(ctx, tx, &repository.BalanceChange{
		DistributorID: j.DistributorID,
		Balances:      balances,
	}); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if err := s.entryRepo.Create(ctx, tx, entries...); err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	// 写审计
	if _, err := s.audit.RecordTx(ctx, tx, &audit.Event{
		Type:          auditType(j),
		DistributorID: j.DistributorID,
		TargetType:    models.AuditTargetLedgerEntry,
		TargetID:      entries[0].ID,
		TargetNo:      txnNo,
		Amount:        j.Lines[0].Amount.Abs(),
		OperatorID:    j.OperatorID,
		Payload:       journalPayload(j, entries),
	}); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	for _, e := range entries {
		s.metrics.RecordLedgerMutation(e.Type, string(e.Bucket))
	}
	s.logger.Info("ledger posted",
		logger.DistributorID(j.DistributorID),
		logger.EntryID(entries[0].ID),
		zap.String("txn_no", txnNo),
		zap.String("type", j.Type),
		zap.String("ref_no", j.RefNo),
		logger.OperatorID(j.OperatorID),
	)
	return entries, nil
}

// GetAccount 获取分销商账户
func (s *Service) GetAccount(ctx context.Context, distributorID int64) (*models.Distributor, error) {
	d, err := s.distributorRepo.GetByID(ctx, distributorID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDistributorNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return d, nil
}

// GetAccountByUserID 根据用户 ID 获取分销商账户
func (s *Service) GetAccountByUserID(ctx context.Context, userID int64) (*models.Distributor, error) {
	d, err := s.distributorRepo.GetByUserID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDistributorNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return d, nil
}

// ListEntries 分页查询流水，最新在前
func (s *Service) ListEntries(ctx context.Context, filter *repository.LedgerEntryFilter, page *utils.Pagination) ([]*models.LedgerEntry, int64, error) {
	page.Normalize()
	entries, total, err := s.entryRepo.List(ctx, filter, page.Offset(), page.PageSize)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return entries, total, nil
}

func (s *Service) lockDistributor(ctx context.Context, tx *gorm.DB, id int64) (*models.Distributor, error) {
	d, err := s.distributorRepo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDistributorNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return d, nil
}

func (s *Service) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func entryType(t string) string {
	if t == "" {
		return models.EntryTypeManualAdjust
	}
	return t
}

func auditType(j *Journal) string {
	if j.AuditType != "" {
		return j.AuditType
	}
	return models.AuditLedgerTxn
}

func journalPayload(j *Journal, entries []*models.LedgerEntry) map[string]interface{} {
	lines := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		line := map[string]interface{}{
			"entry_id":       e.ID,
			"bucket":         string(e.Bucket),
			"amount":         e.Amount.StringFixed(2),
			"balance_before": e.BalanceBefore.StringFixed(2),
			"balance_after":  e.BalanceAfter.StringFixed(2),
		}
		if e.ReversalOf != nil {
			line["reversal_of"] = *e.ReversalOf
		}
		lines = append(lines, line)
	}
	return map[string]interface{}{
		"entry_type": j.Type,
		"ref_type":   j.RefType,
		"ref_no":     j.RefNo,
		"reason":     j.Reason,
		"lines":      lines,
	}
}

func bucketLabel(b models.Bucket) string {
	switch b {
	case models.BucketPending:
		return "待结算佣金"
	case models.BucketAvailable:
		return "可提现"
	case models.BucketFrozen:
		return "冻结"
	case models.BucketWithdrawn:
		return "已提现"
	case models.BucketFee:
		return "手续费"
	}
	return string(b)
}
