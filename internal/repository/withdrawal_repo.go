package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/database"
	"github.com/dumeirei/mall-ledger/internal/models"
)

// WithdrawalRepository 提现仓储
type WithdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository 创建提现仓储
func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// Create 创建提现记录，必须在事务内调用
func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, withdrawal *models.Withdrawal) error {
	return tx.WithContext(ctx).Create(withdrawal).Error
}

// GetByID 根据 ID 获取提现记录
func (r *WithdrawalRepository) GetByID(ctx context.Context, id int64) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	err := r.db.WithContext(ctx).First(&withdrawal, id).Error
	if err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

// GetByWithdrawalNo 根据提现单号获取记录
func (r *WithdrawalRepository) GetByWithdrawalNo(ctx context.Context, withdrawalNo string) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	err := r.db.WithContext(ctx).Where("withdrawal_no = ?", withdrawalNo).First(&withdrawal).Error
	if err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

// GetForUpdate 获取提现记录（行锁）
func (r *WithdrawalRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	err := database.ForUpdate(tx.WithContext(ctx)).First(&withdrawal, id).Error
	if err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

// WithdrawalUpdate 提现状态迁移时允许修改的字段
type WithdrawalUpdate struct {
	Status          int8
	OperatorID      *int64
	RejectReason    *string
	FailReason      *string
	TransactionID   *string
	ActualAmount    *decimal.Decimal
	Fee             *decimal.Decimal
	ReleaseEntryID  *int64
	PayoutEntryID   *int64
	GatewayAttempts *int
	AuditedAt       *time.Time
	ProcessedAt     *time.Time
	CompletedAt     *time.Time
}

func (u *WithdrawalUpdate) fields() map[string]interface{} {
	fields := map[string]interface{}{"status": u.Status}
	if u.OperatorID != nil {
		fields["operator_id"] = *u.OperatorID
	}
	if u.RejectReason != nil {
		fields["reject_reason"] = *u.RejectReason
	}
	if u.FailReason != nil {
		fields["fail_reason"] = *u.FailReason
	}
	if u.TransactionID != nil {
		fields["transaction_id"] = *u.TransactionID
	}
	if u.ActualAmount != nil {
		fields["actual_amount"] = *u.ActualAmount
	}
	if u.Fee != nil {
		fields["fee"] = *u.Fee
	}
	if u.ReleaseEntryID != nil {
		fields["release_entry_id"] = *u.ReleaseEntryID
	}
	if u.PayoutEntryID != nil {
		fields["payout_entry_id"] = *u.PayoutEntryID
	}
	if u.GatewayAttempts != nil {
		fields["gateway_attempts"] = *u.GatewayAttempts
	}
	if u.AuditedAt != nil {
		fields["audited_at"] = *u.AuditedAt
	}
	if u.ProcessedAt != nil {
		fields["processed_at"] = *u.ProcessedAt
	}
	if u.CompletedAt != nil {
		fields["completed_at"] = *u.CompletedAt
	}
	return fields
}

// Transition 按状态条件更新，当前状态不是 fromStatus 时返回 gorm.ErrRecordNotFound
func (r *WithdrawalRepository) Transition(ctx context.Context, tx *gorm.DB, id int64, fromStatus int8, upd *WithdrawalUpdate) error {
	// 以原状态为条件更新，状态已变化时不影响任何行
	result := tx.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(upd.fields())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrAttempts 记录一次打款请求
func (r *WithdrawalRepository) IncrAttempts(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ?", id).
		UpdateColumn("gateway_attempts", gorm.Expr("gateway_attempts + 1")).Error
}

// CountOutstanding 统计分销商未终结的提现数
func (r *WithdrawalRepository) CountOutstanding(ctx context.Context, tx *gorm.DB, distributorID int64) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("distributor_id = ? AND status IN ?", distributorID, models.OutstandingWithdrawalStatuses).
		Count(&count).Error
	return count, err
}

// SumOutstanding 汇总分销商未终结提现的冻结金额
func (r *WithdrawalRepository) SumOutstanding(ctx context.Context, distributorID int64) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("distributor_id = ? AND status IN ?", distributorID, models.OutstandingWithdrawalStatuses).
		Scan(&result).Error
	return result.Total, err
}

// ListIDsByStatus 按状态获取提现 ID，processedBefore 非零时只返回此前进入该状态的记录
func (r *WithdrawalRepository) ListIDsByStatus(ctx context.Context, status int8, processedBefore time.Time, limit int) ([]int64, error) {
	var ids []int64
	query := r.db.WithContext(ctx).Model(&models.Withdrawal{}).Where("status = ?", status)
	if !processedBefore.IsZero() {
		query = query.Where("processed_at < ?", processedBefore)
	}
	err := query.Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

// WithdrawalFilter 提现查询条件
type WithdrawalFilter struct {
	DistributorID int64
	WithdrawalNo  string
	Status        *int8
	StartTime     *time.Time
	EndTime       *time.Time
}

// List 分页查询提现记录
func (r *WithdrawalRepository) List(ctx context.Context, filter *WithdrawalFilter, offset, limit int) ([]*models.Withdrawal, int64, error) {
	var withdrawals []*models.Withdrawal
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Withdrawal{})
	if filter != nil {
		if filter.DistributorID > 0 {
			query = query.Where("distributor_id = ?", filter.DistributorID)
		}
		if filter.WithdrawalNo != "" {
			query = query.Where("withdrawal_no = ?", filter.WithdrawalNo)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.StartTime != nil {
			query = query.Where("applied_at >= ?", *filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("applied_at < ?", *filter.EndTime)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&withdrawals).Error; err != nil {
		return nil, 0, err
	}

	return withdrawals, total, nil
}

// WithdrawalStats 提现统计
type WithdrawalStats struct {
	PendingCount    int64           `json:"pending_count"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	CompletedCount  int64           `json:"completed_count"`
	CompletedAmount decimal.Decimal `json:"completed_amount"`
	TotalFee        decimal.Decimal `json:"total_fee"`
}

// GetStats 获取分销商提现统计
func (r *WithdrawalRepository) GetStats(ctx context.Context, distributorID int64) (*WithdrawalStats, error) {
	type row struct {
		Status int8
		Count  int64
		Amount decimal.Decimal
		Actual decimal.Decimal
		Fee    decimal.Decimal
	}

	var rows []row
	err := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(actual_amount), 0) AS actual, COALESCE(SUM(fee), 0) AS fee").
		Where("distributor_id = ?", distributorID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &WithdrawalStats{}
	for _, r := range rows {
		switch r.Status {
		case models.WithdrawalStatusPending, models.WithdrawalStatusApproved, models.WithdrawalStatusProcessing:
			stats.PendingCount += r.Count
			stats.PendingAmount = stats.PendingAmount.Add(r.Amount)
		case models.WithdrawalStatusCompleted:
			stats.CompletedCount += r.Count
			stats.CompletedAmount = stats.CompletedAmount.Add(r.Actual)
			stats.TotalFee = stats.TotalFee.Add(r.Fee)
		}
	}
	return stats, nil
}
