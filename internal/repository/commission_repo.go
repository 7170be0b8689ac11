package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/database"
	"github.com/dumeirei/mall-ledger/internal/models"
)

// CommissionRepository 佣金仓储
type CommissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository 创建佣金仓储
func NewCommissionRepository(db *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// Create 创建佣金记录，必须在事务内调用
func (r *CommissionRepository) Create(ctx context.Context, tx *gorm.DB, commission *models.Commission) error {
	return tx.WithContext(ctx).Create(commission).Error
}

// GetByID 根据 ID 获取佣金记录
func (r *CommissionRepository) GetByID(ctx context.Context, id int64) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.WithContext(ctx).First(&commission, id).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

// GetForUpdate 获取佣金记录（行锁）
func (r *CommissionRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*models.Commission, error) {
	var commission models.Commission
	err := database.ForUpdate(tx.WithContext(ctx)).First(&commission, id).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

// ExistsByOrderID 订单是否已计算过佣金
func (r *CommissionRepository) ExistsByOrderID(ctx context.Context, tx *gorm.DB, orderID int64) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&models.Commission{}).Where("order_id = ?", orderID).Count(&count).Error
	return count > 0, err
}

// ListByOrderItemsForUpdate 获取订单行对应的佣金记录（行锁）
func (r *CommissionRepository) ListByOrderItemsForUpdate(ctx context.Context, tx *gorm.DB, itemIDs []int64) ([]*models.Commission, error) {
	var commissions []*models.Commission
	if len(itemIDs) == 0 {
		return commissions, nil
	}
	err := database.ForUpdate(tx.WithContext(ctx)).
		Where("order_item_id IN ?", itemIDs).
		Order("id ASC").
		Find(&commissions).Error
	return commissions, err
}

// ListDueForSettle 获取到期待结算的佣金 ID
func (r *CommissionRepository) ListDueForSettle(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("status = ? AND created_at < ?", models.CommissionStatusPending, before).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListFrozenIDs 获取待追回的佣金 ID
func (r *CommissionRepository) ListFrozenIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("status = ?", models.CommissionStatusFrozen).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// CommissionUpdate 佣金状态更新
type CommissionUpdate struct {
	Status         int8
	ReversedAmount *decimal.Decimal
	OwedAmount     *decimal.Decimal
	SettleEntryID  *int64
	ReverseEntryID *int64
	SettledAt      *time.Time
	ReversedAt     *time.Time
}

// UpdateStatus 迁移佣金状态，fromStatus 不匹配时返回 gorm.ErrRecordNotFound
func (r *CommissionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus int8, upd *CommissionUpdate) error {
	fields := map[string]interface{}{"status": upd.Status}
	if upd.ReversedAmount != nil {
		fields["reversed_amount"] = *upd.ReversedAmount
	}
	if upd.OwedAmount != nil {
		fields["owed_amount"] = *upd.OwedAmount
	}
	if upd.SettleEntryID != nil {
		fields["settle_entry_id"] = *upd.SettleEntryID
	}
	if upd.ReverseEntryID != nil {
		fields["reverse_entry_id"] = *upd.ReverseEntryID
	}
	if upd.SettledAt != nil {
		fields["settled_at"] = *upd.SettledAt
	}
	if upd.ReversedAt != nil {
		fields["reversed_at"] = *upd.ReversedAt
	}

	result := tx.WithContext(ctx).Model(&models.Commission{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CommissionFilter 佣金查询条件
type CommissionFilter struct {
	DistributorID int64
	OrderNo       string
	Status        *int8
}

// List 分页查询佣金
func (r *CommissionRepository) List(ctx context.Context, filter *CommissionFilter, offset, limit int) ([]*models.Commission, int64, error) {
	var commissions []*models.Commission
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Commission{})
	if filter != nil {
		if filter.DistributorID > 0 {
			query = query.Where("distributor_id = ?", filter.DistributorID)
		}
		if filter.OrderNo != "" {
			query = query.Where("order_no = ?", filter.OrderNo)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&commissions).Error; err != nil {
		return nil, 0, err
	}

	return commissions, total, nil
}
