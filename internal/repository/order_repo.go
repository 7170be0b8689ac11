package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/database"
	"github.com/dumeirei/mall-ledger/internal/models"
)

// OrderRepository 订单仓储，账本只读取订单金额并回写退款标记
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetByOrderNo 根据订单号获取订单（包含订单项）
func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByOrderNoForUpdate 根据订单号获取订单（加锁）
func (r *OrderRepository) GetByOrderNoForUpdate(ctx context.Context, tx *gorm.DB, orderNo string) (*models.Order, error) {
	var order models.Order
	err := database.ForUpdate(tx.WithContext(ctx)).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListItems 获取订单项
func (r *OrderRepository) ListItems(ctx context.Context, tx *gorm.DB, orderID int64) ([]*models.OrderItem, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	var items []*models.OrderItem
	err := db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&items).Error
	return items, err
}

// ItemRefundUpdate 订单项退款回写
type ItemRefundUpdate struct {
	ItemID           int64
	RefundedQuantity int
	RefundStatus     int8
}

// UpdateItemRefund 回写订单项已退数量和退款状态
func (r *OrderRepository) UpdateItemRefund(ctx context.Context, tx *gorm.DB, upd *ItemRefundUpdate) error {
	return tx.WithContext(ctx).Model(&models.OrderItem{}).
		Where("id = ?", upd.ItemID).
		Updates(map[string]interface{}{
			"refunded_quantity": upd.RefundedQuantity,
			"refund_status":     upd.RefundStatus,
		}).Error
}

// OrderRefundUpdate 订单退款回写
type OrderRefundUpdate struct {
	OrderID        int64
	RefundStatus   int8
	RefundedAmount decimal.Decimal
	RefundedPoints int64
}

// UpdateRefundStatus 回写订单退款状态与累计退款
func (r *OrderRepository) UpdateRefundStatus(ctx context.Context, tx *gorm.DB, upd *OrderRefundUpdate) error {
	return tx.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", upd.OrderID).
		Updates(map[string]interface{}{
			"refund_status":   upd.RefundStatus,
			"refunded_amount": upd.RefundedAmount,
			"refunded_points": upd.RefundedPoints,
		}).Error
}
