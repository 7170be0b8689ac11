package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 订单（由订单服务写入，账本只更新退款相关字段）
type Order struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID         int64           `gorm:"index;not null" json:"user_id"`
	DistributorID  *int64          `gorm:"index" json:"distributor_id,omitempty"`
	Status         int8            `gorm:"type:smallint;not null;default:0" json:"status"`
	ProductAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"product_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount_amount"`
	PointAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"point_amount"`
	PointsUsed     int64           `gorm:"not null;default:0" json:"points_used"`
	ShippingFee    decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"shipping_fee"`
	ActualAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"actual_amount"`
	RefundStatus   int8            `gorm:"type:smallint;not null;default:0" json:"refund_status"`
	RefundedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"refunded_amount"`
	RefundedPoints int64           `gorm:"not null;default:0" json:"refunded_points"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

// TableName 表名
func (Order) TableName() string {
	return "orders"
}

// OrderStatus 订单状态
const (
	OrderStatusPending   = 0 // 待支付
	OrderStatusPaid      = 1 // 已支付
	OrderStatusShipping  = 2 // 配送中
	OrderStatusDelivered = 3 // 已送达
	OrderStatusCompleted = 4 // 已完成
	OrderStatusCancelled = 5 // 已取消
)

// RefundStatus 订单/商品退款状态
const (
	RefundStatusNone    int8 = 0 // 无退款
	RefundStatusPartial int8 = 1 // 部分退款
	RefundStatusFull    int8 = 2 // 全部退款
)

// OrderItem 订单商品行
type OrderItem struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID          int64           `gorm:"index;not null" json:"order_id"`
	ProductID        int64           `gorm:"not null" json:"product_id"`
	SkuID            int64           `gorm:"not null;default:0" json:"sku_id"`
	ProductName      string          `gorm:"type:varchar(200);not null" json:"product_name"`
	Price            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Quantity         int             `gorm:"not null" json:"quantity"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	RefundedQuantity int             `gorm:"not null;default:0" json:"refunded_quantity"`
	RefundStatus     int8            `gorm:"type:smallint;not null;default:0" json:"refund_status"`
}

// TableName 表名
func (OrderItem) TableName() string {
	return "order_items"
}

// ReturnableQuantity 剩余可退数量
func (i *OrderItem) ReturnableQuantity() int {
	return i.Quantity - i.RefundedQuantity
}

// OrderReturn 退货单
type OrderReturn struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ReturnNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"return_no"`
	OrderID        int64           `gorm:"index;not null" json:"order_id"`
	OrderNo        string          `gorm:"type:varchar(64);not null" json:"order_no"`
	UserID         int64           `gorm:"not null" json:"user_id"`
	CashRefund     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"cash_refund"`
	PointsRefund   int64           `gorm:"not null;default:0" json:"points_refund"`
	DiscountShare  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount_share"`
	PointShare     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"point_share"`
	Reason         string          `gorm:"type:varchar(255)" json:"reason,omitempty"`
	OperatorID     int64           `gorm:"not null;default:0" json:"operator_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`

	Allocations []ReturnAllocation `gorm:"foreignKey:ReturnID" json:"allocations,omitempty"`
}

// TableName 表名
func (OrderReturn) TableName() string {
	return "order_returns"
}

// ReturnAllocation 退货行分摊结果，与退货单同事务创建，之后不再修改
type ReturnAllocation struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ReturnID          int64           `gorm:"index;not null" json:"return_id"`
	OrderItemID       int64           `gorm:"index;not null" json:"order_item_id"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	Quantity          int             `gorm:"not null" json:"quantity"`
	LineAmount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"line_amount"`
	Proportion        decimal.Decimal `gorm:"type:decimal(12,8);not null" json:"proportion"`
	AllocatedDiscount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"allocated_discount"`
	AllocatedPoints   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"allocated_points"`
	CashRefund        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"cash_refund"`
	PointsRefund      int64           `gorm:"not null" json:"points_refund"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 表名
func (ReturnAllocation) TableName() string {
	return "return_allocations"
}
