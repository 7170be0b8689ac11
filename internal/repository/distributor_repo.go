// Package repository 提供数据访问层
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/database"
	"github.com/dumeirei/mall-ledger/internal/models"
)

// DistributorRepository 分销商仓储
type DistributorRepository struct {
	db *gorm.DB
}

// NewDistributorRepository 创建分销商仓储
func NewDistributorRepository(db *gorm.DB) *DistributorRepository {
	return &DistributorRepository{db: db}
}

// BalanceChange 余额写入，Balances 为加锁读取后计算出的新余额
type BalanceChange struct {
	DistributorID int64
	Balances      models.Balances
}

// Create 创建分销商
func (r *DistributorRepository) Create(ctx context.Context, tx *gorm.DB, distributor *models.Distributor) error {
	return tx.WithContext(ctx).Create(distributor).Error
}

// GetByID 根据 ID 获取分销商
func (r *DistributorRepository) GetByID(ctx context.Context, id int64) (*models.Distributor, error) {
	var distributor models.Distributor
	err := r.db.WithContext(ctx).First(&distributor, id).Error
	if err != nil {
		return nil, err
	}
	return &distributor, nil
}

// GetByUserID 根据用户 ID 获取分销商
func (r *DistributorRepository) GetByUserID(ctx context.Context, userID int64) (*models.Distributor, error) {
	var distributor models.Distributor
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&distributor).Error
	if err != nil {
		return nil, err
	}
	return &distributor, nil
}

// GetForUpdate 获取分销商（行锁），必须在事务内调用
func (r *DistributorRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*models.Distributor, error) {
	var distributor models.Distributor
	err := database.ForUpdate(tx.WithContext(ctx)).First(&distributor, id).Error
	if err != nil {
		return nil, err
	}
	return &distributor, nil
}

// ApplyBalance 写入新余额，只更新余额列
func (r *DistributorRepository) ApplyBalance(ctx context.Context, tx *gorm.DB, change *BalanceChange) error {
	return tx.WithContext(ctx).Model(&models.Distributor{ID: change.DistributorID}).
		Select(models.BalanceColumns()).
		Updates(&models.Distributor{Balances: change.Balances}).Error
}

// GetByInviteCode 根据邀请码获取分销商
func (r *DistributorRepository) GetByInviteCode(ctx context.Context, inviteCode string) (*models.Distributor, error) {
	var distributor models.Distributor
	err := r.db.WithContext(ctx).Where("invite_code = ?", inviteCode).First(&distributor).Error
	if err != nil {
		return nil, err
	}
	return &distributor, nil
}

// UpdateStatus 按原状态条件更新分销商状态，原状态不匹配时返回 gorm.ErrRecordNotFound
func (r *DistributorRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus int8, approvedAt *time.Time) error {
	fields := map[string]interface{}{"status": toStatus}
	if approvedAt != nil {
		fields["approved_at"] = *approvedAt
	}
	result := tx.WithContext(ctx).Model(&models.Distributor{}).
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

// DistributorFilter 分销商查询条件
type DistributorFilter struct {
	Status   *int8
	ParentID int64
}

// List 分页查询分销商
func (r *DistributorRepository) List(ctx context.Context, filter *DistributorFilter, offset, limit int) ([]*models.Distributor, int64, error) {
	var distributors []*models.Distributor
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Distributor{})
	if filter != nil {
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.ParentID > 0 {
			query = query.Where("parent_id = ?", filter.ParentID)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&distributors).Error; err != nil {
		return nil, 0, err
	}
	return distributors, total, nil
}

// ListIDs 获取全部分销商 ID（对账用）
func (r *DistributorRepository) ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.Distributor{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
