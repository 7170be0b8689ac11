// Package refund 退货分摊与退货单服务
package refund

import (
	"github.com/shopspring/decimal"

	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
)

// ProportionScale 分摊比例保留位数
const ProportionScale = 8

// OrderAmounts 订单级金额
type OrderAmounts struct {
	ProductAmount  decimal.Decimal // 商品总额
	DiscountAmount decimal.Decimal // 优惠金额
	PointAmount    decimal.Decimal // 积分抵扣金额
}

// Line 退货行
type Line struct {
	OrderItemID int64
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Amount 行金额
func (l *Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Prior 本订单此前退货已分摊的合计
type Prior struct {
	DiscountShare decimal.Decimal
	PointShare    decimal.Decimal
	PointsRefund  int64
}

// Options 分摊选项
type Options struct {
	// ReconcileRemainder 为 true 且 Closing 时，把优惠/积分的尾差计入最后一行
	ReconcileRemainder bool
	// Closing 本次退货后订单全部商品均已退回
	Closing bool
	// Prior 此前退货的分摊合计，仅在尾差处理时使用
	Prior Prior
}

// LineAllocation 单行分摊结果
type LineAllocation struct {
	OrderItemID       int64           `json:"order_item_id"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Quantity          int             `json:"quantity"`
	LineAmount        decimal.Decimal `json:"line_amount"`
	Proportion        decimal.Decimal `json:"proportion"`
	AllocatedDiscount decimal.Decimal `json:"allocated_discount"`
	AllocatedPoints   decimal.Decimal `json:"allocated_points"`
	CashRefund        decimal.Decimal `json:"cash_refund"`
	PointsRefund      int64           `json:"points_refund"`
}

// Result 分摊结果
type Result struct {
	Lines         []LineAllocation `json:"lines"`
	CashRefund    decimal.Decimal  `json:"cash_refund"`
	PointsRefund  int64            `json:"points_refund"`
	DiscountShare decimal.Decimal  `json:"discount_share"`
	PointShare    decimal.Decimal  `json:"point_share"`
}

// Allocate 按行金额占商品总额的比例分摊优惠与积分抵扣
//
// 每行独立四舍五入到分，默认不处理尾差。商品总额为 0 时比例为 0，按原价退现金。
func Allocate(order OrderAmounts, lines []Line, opts Options) (*Result, error) {
	// 验证金额与数量
	if len(lines) == 0 {
		return nil, errors.ErrReturnItemsEmpty
	}
	if order.ProductAmount.IsNegative() || order.DiscountAmount.IsNegative() || order.PointAmount.IsNegative() {
		return nil, errors.ErrInvalidParams.WithMessage("订单金额不能为负")
	}
	for i := range lines {
		if lines[i].Quantity <= 0 || lines[i].UnitPrice.IsNegative() {
			return nil, errors.ErrInvalidParams.WithMessage("退货数量或单价无效")
		}
	}

	// 逐行分摊
	res := &Result{Lines: make([]LineAllocation, 0, len(lines))}
	for i := range lines {
		res.Lines = append(res.Lines, allocateLine(order, &lines[i]))
	}

	if opts.ReconcileRemainder && opts.Closing && order.ProductAmount.IsPositive() {
		reconcileLast(order, res.Lines, opts.Prior)
	}

	// 汇总
	res.CashRefund = decimal.Zero
	res.DiscountShare = decimal.Zero
	res.PointShare = decimal.Zero
	for _, a := range res.Lines {
		res.CashRefund = res.CashRefund.Add(a.CashRefund)
		res.DiscountShare = res.DiscountShare.Add(a.AllocatedDiscount)
		res.PointShare = res.PointShare.Add(a.AllocatedPoints)
		res.PointsRefund += a.PointsRefund
	}
	return res, nil
}

func allocateLine(order OrderAmounts, l *Line) LineAllocation {
	amount := utils.RoundMoney(l.Amount())
	a := LineAllocation{
		OrderItemID:       l.OrderItemID,
		UnitPrice:         l.UnitPrice,
		Quantity:          l.Quantity,
		LineAmount:        amount,
		Proportion:        decimal.Zero,
		AllocatedDiscount: decimal.Zero,
		AllocatedPoints:   decimal.Zero,
	}
	if order.ProductAmount.IsPositive() && amount.IsPositive() {
		a.Proportion = amount.DivRound(order.ProductAmount, ProportionScale)
		// 先乘后除，避免比例截断带来的误差
		a.AllocatedDiscount = utils.RoundMoney(order.DiscountAmount.Mul(amount).Div(order.ProductAmount))
		points := order.PointAmount.Mul(amount).Div(order.ProductAmount)
		a.AllocatedPoints = utils.RoundMoney(points)
		// 退回积分按未舍入的抵扣额取整，不能先入后舍
		a.PointsRefund = points.Floor().IntPart()
	}
	settle(&a)
	return a
}

// reconcileLast 整单退完时最后一行承担尾差，使各次退货的优惠/积分分摊合计等于订单值
func reconcileLast(order OrderAmounts, lines []LineAllocation, prior Prior) {
	// 订单值减去此前退货与本次其他行，余下的归最后一行
	last := len(lines) - 1
	discount := order.DiscountAmount.Sub(prior.DiscountShare)
	points := order.PointAmount.Sub(prior.PointShare)
	pointsRefund := order.PointAmount.Floor().IntPart() - prior.PointsRefund
	for i := 0; i < last; i++ {
		discount = discount.Sub(lines[i].AllocatedDiscount)
		points = points.Sub(lines[i].AllocatedPoints)
		pointsRefund -= lines[i].PointsRefund
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if points.IsNegative() {
		points = decimal.Zero
	}
	if pointsRefund < 0 {
		pointsRefund = 0
	}

	a := &lines[last]
	a.AllocatedDiscount = utils.RoundMoney(discount)
	a.AllocatedPoints = utils.RoundMoney(points)
	a.PointsRefund = pointsRefund
	settle(a)
}

func settle(a *LineAllocation) {
	cash := a.LineAmount.Sub(a.AllocatedDiscount).Sub(a.AllocatedPoints)
	if cash.IsNegative() {
		cash = decimal.Zero
	}
	a.CashRefund = utils.RoundMoney(cash)
}
