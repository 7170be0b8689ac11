package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/models"
)

// AuditLogRepository 审计日志仓储
type AuditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create 写入审计日志，必须在业务事务内调用
func (r *AuditLogRepository) Create(ctx context.Context, tx *gorm.DB, log *models.AuditLog) error {
	return tx.WithContext(ctx).Create(log).Error
}

// ListUnpublished 获取尚未投递的审计日志，按 ID 升序
func (r *AuditLogRepository) ListUnpublished(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	var logs []*models.AuditLog
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// MarkPublished 标记为已投递
func (r *AuditLogRepository) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("id IN ? AND published_at IS NULL", ids).
		Update("published_at", at).Error
}

// AuditLogFilter 审计日志查询条件
type AuditLogFilter struct {
	DistributorID int64
	EventType     string
	TargetType    string
	TargetNo      string
	StartTime     *time.Time
	EndTime       *time.Time
}

// List 分页查询审计日志
func (r *AuditLogRepository) List(ctx context.Context, filter *AuditLogFilter, offset, limit int) ([]*models.AuditLog, int64, error) {
	var logs []*models.AuditLog
	var total int64

	query := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter != nil {
		if filter.DistributorID > 0 {
			query = query.Where("distributor_id = ?", filter.DistributorID)
		}
		if filter.EventType != "" {
			query = query.Where("event_type = ?", filter.EventType)
		}
		if filter.TargetType != "" {
			query = query.Where("target_type = ?", filter.TargetType)
		}
		if filter.TargetNo != "" {
			query = query.Where("target_no = ?", filter.TargetNo)
		}
		if filter.StartTime != nil {
			query = query.Where("created_at >= ?", *filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("created_at < ?", *filter.EndTime)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
