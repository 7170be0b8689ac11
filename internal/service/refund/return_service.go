package refund

import (
	"context"
	stderrors "errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	"github.com/dumeirei/mall-ledger/internal/common/tracing"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
)

// ReturnedItem 退货后需要冲回佣金的订单行
type ReturnedItem struct {
	OrderItemID  int64
	Quantity     int  // 本次退货数量
	ItemQuantity int  // 购买数量
	Closing      bool // 本次退货后该行已全部退回
}

// CommissionReverser 退货时冲回佣金，在退货事务内调用
type CommissionReverser interface {
	ReverseForItems(ctx context.Context, tx *gorm.DB, items []ReturnedItem, operatorID int64, returnNo string) error
}

// ReturnItem 退货商品
type ReturnItem struct {
	OrderItemID int64 `json:"order_item_id" binding:"required"`
	Quantity    int   `json:"quantity" binding:"required,gt=0"`
}

// ReturnRequest 退货请求
type ReturnRequest struct {
	OrderNo    string       `json:"order_no" binding:"required"`
	Items      []ReturnItem `json:"items" binding:"required,dive"`
	Reason     string       `json:"reason"`
	OperatorID int64        `json:"-"`
}

// Validate 校验退货请求
func (r *ReturnRequest) Validate() error {
	if r.OrderNo == "" {
		return errors.ErrInvalidParams.WithMessage("订单号不能为空")
	}
	if len(r.Items) == 0 {
		return errors.ErrReturnItemsEmpty
	}
	seen := make(map[int64]struct{}, len(r.Items))
	for _, it := range r.Items {
		if it.Quantity <= 0 {
			return errors.ErrInvalidParams.WithMessage("退货数量必须大于0")
		}
		if _, ok := seen[it.OrderItemID]; ok {
			return errors.ErrInvalidParams.WithMessage("退货商品重复")
		}
		seen[it.OrderItemID] = struct{}{}
	}
	return nil
}

// ReturnService 退货单服务
type ReturnService struct {
	db          *gorm.DB
	orderRepo   *repository.OrderRepository
	returnRepo  *repository.ReturnRepository
	commissions CommissionReverser
	audit       *audit.Service
	reconcile   bool
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewReturnService 创建退货单服务，commissions 可以为 nil
func NewReturnService(
	db *gorm.DB,
	orderRepo *repository.OrderRepository,
	returnRepo *repository.ReturnRepository,
	commissions CommissionReverser,
	auditSvc *audit.Service,
	cfg *config.RefundConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *ReturnService {
	s := &ReturnService{
		db:          db,
		orderRepo:   orderRepo,
		returnRepo:  returnRepo,
		commissions: commissions,
		audit:       auditSvc,
		metrics:     m,
		logger:      logger.OrDefault(log).Named("refund"),
	}
	if cfg != nil {
		s.reconcile = cfg.ReconcileRemainder
	}
	return s
}

// Preview 试算退货分摊，不落库
func (s *ReturnService) Preview(ctx context.Context, req *ReturnRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	order, err := s.orderRepo.GetByOrderNo(ctx, req.OrderNo)
	if err != nil {
		return nil, orderError(err)
	}
	// 按与创建退货单相同的口径试算
	items := make([]*models.OrderItem, 0, len(order.Items))
	for i := range order.Items {
		items = append(items, &order.Items[i])
	}
	shares, err := s.returnRepo.SumSharesByOrderID(ctx, nil, order.ID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	lines, returned, err := buildLines(items, req.Items)
	if err != nil {
		return nil, err
	}
	return Allocate(amountsOf(order), lines, s.options(items, returned, shares))
}

// Create 创建退货单：锁订单、校验可退数量、分摊、写退货单与明细、回写退款标记、冲回佣金、审计，在同一事务内完成
func (s *ReturnService) Create(ctx context.Context, req *ReturnRequest) (ret *models.OrderReturn, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "refund.CreateReturn", tracing.WithOrderNo(req.OrderNo))
	defer func() { tracing.End(span, err) }()

	var result *Result
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁定订单并验证状态
		order, err := s.orderRepo.GetByOrderNoForUpdate(ctx, tx, req.OrderNo)
		if err != nil {
			return orderError(err)
		}
		if order.Status < models.OrderStatusPaid || order.Status > models.OrderStatusCompleted {
			return errors.ErrOrderStatusError.WithMessage("订单状态不允许退货")
		}

		// 校验可退数量
		items, err := s.orderRepo.ListItems(ctx, tx, order.ID)
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		lines, returned, err := buildLines(items, req.Items)
		if err != nil {
			return err
		}
		shares, err := s.returnRepo.SumSharesByOrderID(ctx, tx, order.ID)
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}

		// 分摊优惠与积分
		opts := s.options(items, returned, shares)
		result, err = Allocate(amountsOf(order), lines, opts)
		if err != nil {
			return err
		}

		// 创建退货单与分摊明细
		ret = &models.OrderReturn{
			ReturnNo:      utils.GenerateNo(utils.PrefixReturn),
			OrderID:       order.ID,
			OrderNo:       order.OrderNo,
			UserID:        order.UserID,
			CashRefund:    result.CashRefund,
			PointsRefund:  result.PointsRefund,
			DiscountShare: result.DiscountShare,
			PointShare:    result.PointShare,
			Reason:        req.Reason,
			OperatorID:    req.OperatorID,
		}
		for _, a := range result.Lines {
			ret.Allocations = append(ret.Allocations, models.ReturnAllocation{
				OrderItemID:       a.OrderItemID,
				UnitPrice:         a.UnitPrice,
				Quantity:          a.Quantity,
				LineAmount:        a.LineAmount,
				Proportion:        a.Proportion,
				AllocatedDiscount: a.AllocatedDiscount,
				AllocatedPoints:   a.AllocatedPoints,
				CashRefund:        a.CashRefund,
				PointsRefund:      a.PointsRefund,
			})
		}
		if err := s.returnRepo.Create(ctx, tx, ret); err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}

		// 回写商品与订单退款状态
		for _, r := range returned {
			status := models.RefundStatusPartial
			if r.Closing {
				status = models.RefundStatusFull
			}
			if err := s.orderRepo.UpdateItemRefund(ctx, tx, &repository.ItemRefundUpdate{
				ItemID:           r.OrderItemID,
				RefundedQuantity: refundedQuantity(items, r.OrderItemID) + r.Quantity,
				RefundStatus:     status,
			}); err != nil {
				return errors.ErrDatabaseError.WithError(err)
			}
		}

		orderStatus := models.RefundStatusPartial
		if opts.Closing {
			orderStatus = models.RefundStatusFull
		}
		if err := s.orderRepo.UpdateRefundStatus(ctx, tx, &repository.OrderRefundUpdate{
			OrderID:        order.ID,
			RefundStatus:   orderStatus,
			RefundedAmount: order.RefundedAmount.Add(result.CashRefund),
			RefundedPoints: order.RefundedPoints + result.PointsRefund,
		}); err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}

		// 冲回佣金
		if s.commissions != nil && order.DistributorID != nil {
			if err := s.commissions.ReverseForItems(ctx, tx, returned, req.OperatorID, ret.ReturnNo); err != nil {
				return err
			}
		}

		var distributorID int64
		if order.DistributorID != nil {
			distributorID = *order.DistributorID
		}
		_, err = s.audit.RecordTx(ctx, tx, &audit.Event{
			Type:          models.AuditReturnCreated,
			DistributorID: distributorID,
			TargetType:    models.AuditTargetReturn,
			TargetID:      ret.ID,
			TargetNo:      ret.ReturnNo,
			Amount:        result.CashRefund,
			OperatorID:    req.OperatorID,
			Payload: map[string]interface{}{
				"order_no":       order.OrderNo,
				"points_refund":  result.PointsRefund,
				"discount_share": result.DiscountShare.StringFixed(2),
				"point_share":    result.PointShare.StringFixed(2),
				"lines":          len(result.Lines),
				"closing":        opts.Closing,
			},
		})
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReturnAllocations(len(result.Lines))
	s.logger.Info("order return created",
		logger.OrderNo(req.OrderNo),
		zap.String("return_no", ret.ReturnNo),
		logger.Amount(result.CashRefund),
		zap.Int64("points_refund", result.PointsRefund),
		logger.OperatorID(req.OperatorID),
	)
	return ret, nil
}

// Get 根据退货单号获取退货单
func (s *ReturnService) Get(ctx context.Context, returnNo string) (*models.OrderReturn, error) {
	ret, err := s.returnRepo.GetByReturnNo(ctx, returnNo)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrRefundNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return ret, nil
}

// ListByOrder 获取订单的全部退货单
func (s *ReturnService) ListByOrder(ctx context.Context, orderNo string) ([]*models.OrderReturn, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, orderError(err)
	}
	returns, err := s.returnRepo.ListByOrderID(ctx, order.ID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return returns, nil
}

func (s *ReturnService) options(items []*models.OrderItem, returned []ReturnedItem, shares *repository.ReturnShares) Options {
	return Options{
		ReconcileRemainder: s.reconcile,
		Closing:            closesOrder(items, returned),
		Prior: Prior{
			DiscountShare: shares.DiscountShare,
			PointShare:    shares.PointShare,
			PointsRefund:  shares.PointsRefund,
		},
	}
}

// buildLines 校验退货商品并转为分摊行
func buildLines(items []*models.OrderItem, req []ReturnItem) ([]Line, []ReturnedItem, error) {
	byID := make(map[int64]*models.OrderItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	lines := make([]Line, 0, len(req))
	returned := make([]ReturnedItem, 0, len(req))
	for _, r := range req {
		it, ok := byID[r.OrderItemID]
		if !ok {
			return nil, nil, errors.ErrOrderItemNotFound
		}
		if r.Quantity > it.ReturnableQuantity() {
			return nil, nil, errors.ErrReturnQuantityExceed
		}
		lines = append(lines, Line{OrderItemID: it.ID, UnitPrice: it.Price, Quantity: r.Quantity})
		returned = append(returned, ReturnedItem{
			OrderItemID:  it.ID,
			Quantity:     r.Quantity,
			ItemQuantity: it.Quantity,
			Closing:      r.Quantity == it.ReturnableQuantity(),
		})
	}
	return lines, returned, nil
}

// closesOrder 本次退货后订单全部商品是否均已退回
func closesOrder(items []*models.OrderItem, returned []ReturnedItem) bool {
	qty := make(map[int64]int, len(returned))
	for _, r := range returned {
		qty[r.OrderItemID] = r.Quantity
	}
	for _, it := range items {
		if it.ReturnableQuantity() != qty[it.ID] {
			return false
		}
	}
	return true
}

func refundedQuantity(items []*models.OrderItem, itemID int64) int {
	for _, it := range items {
		if it.ID == itemID {
			return it.RefundedQuantity
		}
	}
	return 0
}

func amountsOf(o *models.Order) OrderAmounts {
	return OrderAmounts{
		ProductAmount:  o.ProductAmount,
		DiscountAmount: o.DiscountAmount,
		PointAmount:    o.PointAmount,
	}
}

func orderError(err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.ErrOrderNotFound
	}
	return errors.ErrDatabaseError.WithError(err)
}

// CashBase 按整单分摊后的各行现金金额，用作佣金计算基数
func CashBase(o *models.Order) (map[int64]decimal.Decimal, error) {
	lines := make([]Line, 0, len(o.Items))
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			continue
		}
		lines = append(lines, Line{OrderItemID: it.ID, UnitPrice: it.Price, Quantity: it.Quantity})
	}
	if len(lines) == 0 {
		return map[int64]decimal.Decimal{}, nil
	}
	// 视为整单全退，尾差计入最后一行
	res, err := Allocate(amountsOf(o), lines, Options{ReconcileRemainder: true, Closing: true})
	if err != nil {
		return nil, err
	}
	base := make(map[int64]decimal.Decimal, len(res.Lines))
	for _, a := range res.Lines {
		base[a.OrderItemID] = a.CashRefund
	}
	return base, nil
}
