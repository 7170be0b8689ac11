package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/models"
)

// ReturnRepository 退货单仓储
type ReturnRepository struct {
	db *gorm.DB
}

// NewReturnRepository 创建退货单仓储
func NewReturnRepository(db *gorm.DB) *ReturnRepository {
	return &ReturnRepository{db: db}
}

// Create 创建退货单及分摊明细，必须在事务内调用
func (r *ReturnRepository) Create(ctx context.Context, tx *gorm.DB, ret *models.OrderReturn) error {
	return tx.WithContext(ctx).Create(ret).Error
}

// GetByReturnNo 根据退货单号获取退货单（包含分摊明细）
func (r *ReturnRepository) GetByReturnNo(ctx context.Context, returnNo string) (*models.OrderReturn, error) {
	var ret models.OrderReturn
	err := r.db.WithContext(ctx).
		Preload("Allocations", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("return_no = ?", returnNo).
		First(&ret).Error
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

// ListByOrderID 获取订单的全部退货单
func (r *ReturnRepository) ListByOrderID(ctx context.Context, orderID int64) ([]*models.OrderReturn, error) {
	var returns []*models.OrderReturn
	err := r.db.WithContext(ctx).
		Preload("Allocations").
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&returns).Error
	return returns, err
}

// ReturnShares 订单历次退货的分摊合计
type ReturnShares struct {
	DiscountShare decimal.Decimal
	PointShare    decimal.Decimal
	CashRefund    decimal.Decimal
	PointsRefund  int64
}

// SumSharesByOrderID 汇总订单已有退货的分摊，tx 为 nil 时使用默认连接
func (r *ReturnRepository) SumSharesByOrderID(ctx context.Context, tx *gorm.DB, orderID int64) (*ReturnShares, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	var shares ReturnShares
	err := db.WithContext(ctx).Model(&models.OrderReturn{}).
		Select("COALESCE(SUM(discount_share), 0) AS discount_share, COALESCE(SUM(point_share), 0) AS point_share, " +
			"COALESCE(SUM(cash_refund), 0) AS cash_refund, COALESCE(SUM(points_refund), 0) AS points_refund").
		Where("order_id = ?", orderID).
		Scan(&shares).Error
	if err != nil {
		return nil, err
	}
	return &shares, nil
}
