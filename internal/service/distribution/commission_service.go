// Package distribution 分销佣金与提现服务
package distribution

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
	"github.com/dumeirei/mall-ledger/internal/service/ledger"
	"github.com/dumeirei/mall-ledger/internal/service/refund"
)

// 默认佣金配置
const (
	DefaultDirectRate   = 0.10 // 直推佣金比例 10%
	DefaultIndirectRate = 0.05 // 间推佣金比例 5%
	DefaultSettleDelay  = 7    // 默认结算延迟天数

	batchSize = 100
)

// CommissionService 佣金服务
type CommissionService struct {
	db              *gorm.DB
	commissionRepo  *repository.CommissionRepository
	distributorRepo *repository.DistributorRepository
	orderRepo       *repository.OrderRepository
	ledger          *ledger.Service
	audit           *audit.Service
	metrics         *metrics.Metrics
	logger          *zap.Logger

	directRate   decimal.Decimal
	indirectRate decimal.Decimal
	maxLevel     int
	settleDelay  int
}

// NewCommissionService 创建佣金服务
func NewCommissionService(
	db *gorm.DB,
	commissionRepo *repository.CommissionRepository,
	distributorRepo *repository.DistributorRepository,
	orderRepo *repository.OrderRepository,
	ledgerSvc *ledger.Service,
	auditSvc *audit.Service,
	cfg *config.DistributionConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *CommissionService {
	s := &CommissionService{
		db:              db,
		commissionRepo:  commissionRepo,
		distributorRepo: distributorRepo,
		orderRepo:       orderRepo,
		ledger:          ledgerSvc,
		audit:           auditSvc,
		metrics:         m,
		logger:          logger.OrDefault(log).Named("commission"),
		directRate:      decimal.NewFromFloat(DefaultDirectRate),
		indirectRate:    decimal.NewFromFloat(DefaultIndirectRate),
		maxLevel:        models.CommissionLevelSecond,
		settleDelay:     DefaultSettleDelay,
	}
	if cfg != nil {
		s.SetRates(cfg.Level1Rate, cfg.Level2Rate, cfg.SettleDelayDays)
		if cfg.MaxLevel > 0 {
			s.maxLevel = cfg.MaxLevel
		}
	}
	return s
}

// SetRates 设置佣金比例
func (s *CommissionService) SetRates(directRate, indirectRate float64, settleDelay int) {
	s.directRate = decimal.NewFromFloat(directRate)
	s.indirectRate = decimal.NewFromFloat(indirectRate)
	if settleDelay >= 0 {
		s.settleDelay = settleDelay
	}
}

type beneficiary struct {
	distributor *models.Distributor
	level       int
	rate        decimal.Decimal
}

// Accrue 订单完成时按订单行计算各级佣金并计入待结算
//
// 佣金基数为整单分摊后每行的现金金额，同一订单重复调用返回 ErrAlreadyExists。
func (s *CommissionService) Accrue(ctx context.Context, orderNo string) ([]*models.Commission, error) {
	// 验证订单状态
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrOrderNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if order.Status != models.OrderStatusCompleted {
		return nil, errors.ErrOrderStatusError.WithMessage("订单未完成，不能计算佣金")
	}
	if order.DistributorID == nil {
		return nil, nil
	}

	// 查找受益分销商
	beneficiaries, err := s.beneficiaries(ctx, *order.DistributorID)
	if err != nil {
		return nil, err
	}
	if len(beneficiaries) == 0 {
		return nil, nil
	}

	// 计算每行佣金基数
	base, err := refund.CashBase(order)
	if err != nil {
		return nil, err
	}

	var created []*models.Commission
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 检查是否已计算
		exists, err := s.commissionRepo.ExistsByOrderID(ctx, tx, order.ID)
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if exists {
			return errors.ErrAlreadyExists.WithMessage("订单佣金已计算")
		}

		for _, item := range order.Items {
			cash := base[item.ID]
			for _, b := range beneficiaries {
				amount := utils.RoundMoney(cash.Mul(b.rate))
				if !amount.IsPositive() {
					continue
				}
				// 计入待结算佣金
				entry, err := s.ledger.CreditTx(ctx, tx, &ledger.Mutation{
					DistributorID: b.distributor.ID,
					Bucket:        models.BucketPending,
					Amount:        amount,
					Type:          models.EntryTypeCommissionAccrue,
					RefType:       models.RefTypeOrder,
					RefNo:         order.OrderNo,
					Reason:        "订单佣金",
				})
				if err != nil {
					return err
				}

				// 创建佣金记录
				c := &models.Commission{
					DistributorID:  b.distributor.ID,
					OrderID:        order.ID,
					OrderNo:        order.OrderNo,
					OrderItemID:    item.ID,
					SourceUserID:   order.UserID,
					Level:          b.level,
					OrderAmount:    cash,
					CommissionRate: b.rate,
					Amount:         amount,
					Status:         models.CommissionStatusPending,
					AccrueEntryID:  entry.ID,
				}
				if err := s.commissionRepo.Create(ctx, tx, c); err != nil {
					if stderrors.Is(err, gorm.ErrDuplicatedKey) {
						return errors.ErrAlreadyExists.WithMessage("订单佣金已计算")
					}
					return errors.ErrDatabaseError.WithError(err)
				}
				if err := s.record(ctx, tx, models.AuditCommissionAccrued, c, nil, models.CommissionStatusPending, amount, 0); err != nil {
					return err
				}
				created = append(created, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("commission accrued",
		logger.OrderNo(orderNo),
		zap.Int("entries", len(created)),
	)
	return created, nil
}

// beneficiaries 直推分销商及其上级，非正常状态的分销商不参与
func (s *CommissionService) beneficiaries(ctx context.Context, distributorID int64) ([]beneficiary, error) {
	direct, err := s.distributorRepo.GetByID(ctx, distributorID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	// 直推
	var list []beneficiary
	if direct.IsActive() {
		list = append(list, beneficiary{distributor: direct, level: models.CommissionLevelDirect, rate: s.directRate})
	}
	if s.maxLevel < models.CommissionLevelSecond || direct.ParentID == nil {
		return list, nil
	}

	// 上级
	parent, err := s.distributorRepo.GetByID(ctx, *direct.ParentID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return list, nil
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if parent.IsActive() {
		list = append(list, beneficiary{distributor: parent, level: models.CommissionLevelSecond, rate: s.indirectRate})
	}
	return list, nil
}

// Settle 结算佣金：待结算转入可提现
func (s *CommissionService) Settle(ctx context.Context, commissionID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.lock(ctx, tx, commissionID)
		if err != nil {
			return err
		}
		if c.Status != models.CommissionStatusPending {
			return errors.ErrCommissionStatus
		}

		// 扣除已冲回部分，剩余转入可提现余额
		now := time.Now()
		upd := &repository.CommissionUpdate{Status: models.CommissionStatusSettled, SettledAt: &now}
		amount := c.Amount.Sub(c.ReversedAmount)
		if amount.IsPositive() {
			entries, err := s.ledger.TransferTx(ctx, tx, &ledger.TransferRequest{
				DistributorID: c.DistributorID,
				From:          models.BucketPending,
				To:            models.BucketAvailable,
				Amount:        amount,
				Type:          models.EntryTypeCommissionSettle,
				RefType:       models.RefTypeCommission,
				RefNo:         strconv.FormatInt(c.ID, 10),
				Reason:        "佣金结算",
			})
			if err != nil {
				return err
			}
			upd.SettleEntryID = &entries[1].ID
		}

		// 更新佣金状态
		if err := s.commissionRepo.UpdateStatus(ctx, tx, c.ID, models.CommissionStatusPending, upd); err != nil {
			return commissionUpdateError(err)
		}
		return s.record(ctx, tx, models.AuditCommissionSettled, c, audit.StatusPtr(models.CommissionStatusPending), models.CommissionStatusSettled, amount, 0)
	})
}

// SettleDue 结算超过延迟期的待结算佣金，返回成功条数
func (s *CommissionService) SettleDue(ctx context.Context, now time.Time) (int, error) {
	before := now.AddDate(0, 0, -s.settleDelay)
	settled := 0
	for {
		ids, err := s.commissionRepo.ListDueForSettle(ctx, before, batchSize)
		if err != nil {
			return settled, errors.ErrDatabaseError.WithError(err)
		}
		progress := 0
		for _, id := range ids {
			if err := s.Settle(ctx, id); err != nil {
				s.logger.Warn("settle commission failed", zap.Int64("commission_id", id), zap.Error(err))
				continue
			}
			progress++
		}
		settled += progress
		if len(ids) < batchSize || progress == 0 {
			return settled, nil
		}
	}
}

// ReverseForItems 退货时按退货数量比例冲回佣金，必须在退货事务内调用
//
// 待结算佣金从待结算余额扣回；已结算佣金从可提现余额扣回，余额不足时挂账为 frozen 等待 RetryFrozen。
func (s *CommissionService) ReverseForItems(ctx context.Context, tx *gorm.DB, items []refund.ReturnedItem, operatorID int64, returnNo string) error {
	byItem := make(map[int64]refund.ReturnedItem, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		byItem[it.OrderItemID] = it
		ids = append(ids, it.OrderItemID)
	}

	// 锁定相关佣金
	commissions, err := s.commissionRepo.ListByOrderItemsForUpdate(ctx, tx, ids)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}

	for _, c := range commissions {
		if c.Status == models.CommissionStatusReversed {
			continue
		}
		// 按退货数量计算应冲回金额
		share := reverseShare(c, byItem[c.OrderItemID])
		if !share.IsPositive() {
			continue
		}
		if err := s.reverse(ctx, tx, c, share, operatorID, returnNo); err != nil {
			return err
		}
	}
	return nil
}

// reverseShare 本次应冲回的佣金，行全部退回时冲回全部剩余
func reverseShare(c *models.Commission, it refund.ReturnedItem) decimal.Decimal {
	remaining := c.Remaining()
	if it.Closing || it.ItemQuantity <= 0 {
		return remaining
	}
	share := utils.RoundMoney(c.Amount.Mul(decimal.NewFromInt(int64(it.Quantity))).Div(decimal.NewFromInt(int64(it.ItemQuantity))))
	if share.GreaterThan(remaining) {
		return remaining
	}
	return share
}

func (s *CommissionService) reverse(ctx context.Context, tx *gorm.DB, c *models.Commission, share decimal.Decimal, operatorID int64, returnNo string) error {
	from := c.Status
	upd := &repository.CommissionUpdate{Status: c.Status}
	reversed := c.ReversedAmount
	owed := c.OwedAmount

	switch c.Status {
	case models.CommissionStatusPending, models.CommissionStatusSettled:
		// 待结算从待结算余额扣回，已结算从可提现余额扣回
		bucket := models.BucketPending
		if c.Status == models.CommissionStatusSettled {
			bucket = models.BucketAvailable
		}
		entry, err := s.ledger.DebitTx(ctx, tx, &ledger.Mutation{
			DistributorID: c.DistributorID,
			Bucket:        bucket,
			Amount:        share,
			Type:          models.EntryTypeCommissionReverse,
			RefType:       models.RefTypeReturn,
			RefNo:         returnNo,
			Reason:        "退货冲回佣金",
			OperatorID:    operatorID,
		})
		switch {
		case err == nil:
			reversed = reversed.Add(share)
			upd.ReverseEntryID = &entry.ID
		case c.Status == models.CommissionStatusSettled && stderrors.Is(err, errors.ErrBalanceInsufficient):
			// 余额不足，挂账
			owed = owed.Add(share)
			upd.Status = models.CommissionStatusFrozen
		default:
			return err
		}
	case models.CommissionStatusFrozen:
		// 已挂账的继续累加欠款
		owed = owed.Add(share)
	default:
		return nil
	}

	// 全部冲回
	if reversed.Equal(c.Amount) {
		now := time.Now()
		upd.Status = models.CommissionStatusReversed
		upd.ReversedAt = &now
	}
	upd.ReversedAmount = &reversed
	upd.OwedAmount = &owed
	if err := s.commissionRepo.UpdateStatus(ctx, tx, c.ID, from, upd); err != nil {
		return commissionUpdateError(err)
	}

	// 写审计
	outcome, event := "reversed", models.AuditCommissionReversed
	if upd.Status == models.CommissionStatusFrozen {
		outcome, event = "frozen", models.AuditCommissionFrozen
	}
	s.metrics.RecordCommissionReversal(outcome)
	return s.record(ctx, tx, event, c, audit.StatusPtr(from), upd.Status, share, operatorID)
}

// RetryFrozen 可提现余额足够时追回挂账佣金，返回追回条数
func (s *CommissionService) RetryFrozen(ctx context.Context) (int, error) {
	ids, err := s.commissionRepo.ListFrozenIDs(ctx, batchSize)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}
	recovered := 0
	for _, id := range ids {
		err := s.retryFrozen(ctx, id)
		switch {
		case err == nil:
			recovered++
		case stderrors.Is(err, errors.ErrBalanceInsufficient), stderrors.Is(err, errors.ErrCommissionStatus):
		default:
			s.logger.Warn("retry frozen commission failed", zap.Int64("commission_id", id), zap.Error(err))
		}
	}
	return recovered, nil
}

func (s *CommissionService) retryFrozen(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Status != models.CommissionStatusFrozen || !c.OwedAmount.IsPositive() {
			return errors.ErrCommissionStatus
		}

		// 从可提现余额追回挂账金额
		entry, err := s.ledger.DebitTx(ctx, tx, &ledger.Mutation{
			DistributorID: c.DistributorID,
			Bucket:        models.BucketAvailable,
			Amount:        c.OwedAmount,
			Type:          models.EntryTypeCommissionReverse,
			RefType:       models.RefTypeCommission,
			RefNo:         strconv.FormatInt(c.ID, 10),
			Reason:        "追回佣金",
		})
		if err != nil {
			return err
		}

		// 更新佣金状态
		reversed := c.ReversedAmount.Add(c.OwedAmount)
		zero := decimal.Zero
		upd := &repository.CommissionUpdate{
			Status:         models.CommissionStatusSettled,
			ReversedAmount: &reversed,
			OwedAmount:     &zero,
			ReverseEntryID: &entry.ID,
		}
		if reversed.Equal(c.Amount) {
			now := time.Now()
			upd.Status = models.CommissionStatusReversed
			upd.ReversedAt = &now
		}
		if err := s.commissionRepo.UpdateStatus(ctx, tx, c.ID, models.CommissionStatusFrozen, upd); err != nil {
			return commissionUpdateError(err)
		}
		s.metrics.RecordCommissionReversal("recovered")
		return s.record(ctx, tx, models.AuditCommissionReversed, c, audit.StatusPtr(models.CommissionStatusFrozen), upd.Status, c.OwedAmount, 0)
	})
}

// GetByID 获取佣金记录
func (s *CommissionService) GetByID(ctx context.Context, id int64) (*models.Commission, error) {
	c, err := s.commissionRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrCommissionNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return c, nil
}

// List 分页查询佣金
func (s *CommissionService) List(ctx context.Context, filter *repository.CommissionFilter, page *utils.Pagination) ([]*models.Commission, int64, error) {
	page.Normalize()
	list, total, err := s.commissionRepo.List(ctx, filter, page.Offset(), page.PageSize)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return list, total, nil
}

func (s *CommissionService) lock(ctx context.Context, tx *gorm.DB, id int64) (*models.Commission, error) {
	c, err := s.commissionRepo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrCommissionNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return c, nil
}

func (s *CommissionService) record(ctx context.Context, tx *gorm.DB, eventType string, c *models.Commission, from *int8, to int8, amount decimal.Decimal, operatorID int64) error {
	_, err := s.audit.RecordTx(ctx, tx, &audit.Event{
		Type:          eventType,
		DistributorID: c.DistributorID,
		TargetType:    models.AuditTargetCommission,
		TargetID:      c.ID,
		TargetNo:      c.OrderNo,
		FromStatus:    from,
		ToStatus:      audit.StatusPtr(to),
		Amount:        amount,
		OperatorID:    operatorID,
		Payload: map[string]interface{}{
			"order_item_id": c.OrderItemID,
			"level":         c.Level,
		},
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

func commissionUpdateError(err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.ErrCommissionStatus
	}
	return errors.ErrDatabaseError.WithError(err)
}
