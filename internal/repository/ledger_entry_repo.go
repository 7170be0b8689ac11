package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/models"
)

// LedgerEntryRepository 账本流水仓储，只提供追加和查询
type LedgerEntryRepository struct {
	db *gorm.DB
}

// NewLedgerEntryRepository 创建账本流水仓储
func NewLedgerEntryRepository(db *gorm.DB) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

// Create 追加流水，必须在事务内调用
func (r *LedgerEntryRepository) Create(ctx context.Context, tx *gorm.DB, entries ...*models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(entries).Error
}

// GetByID 根据 ID 获取流水
func (r *LedgerEntryRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.conn(tx).WithContext(ctx).First(&entry, id).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByTxnNo 获取同一笔变动的全部流水
func (r *LedgerEntryRepository) ListByTxnNo(ctx context.Context, tx *gorm.DB, txnNo string) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := r.conn(tx).WithContext(ctx).
		Where("txn_no = ?", txnNo).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// ExistsReversalOf 流水是否已被冲正
func (r *LedgerEntryRepository) ExistsReversalOf(ctx context.Context, tx *gorm.DB, entryID int64) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("reversal_of = ?", entryID).
		Count(&count).Error
	return count > 0, err
}

// LedgerEntryFilter 流水查询条件
type LedgerEntryFilter struct {
	DistributorID int64
	Bucket        models.Bucket
	Type          string
	RefNo         string
}

// List 分页查询流水，按 ID 倒序
func (r *LedgerEntryRepository) List(ctx context.Context, filter *LedgerEntryFilter, offset, limit int) ([]*models.LedgerEntry, int64, error) {
	var entries []*models.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if filter != nil {
		if filter.DistributorID > 0 {
			query = query.Where("distributor_id = ?", filter.DistributorID)
		}
		if filter.Bucket != "" {
			query = query.Where("bucket = ?", filter.Bucket)
		}
		if filter.Type != "" {
			query = query.Where("type = ?", filter.Type)
		}
		if filter.RefNo != "" {
			query = query.Where("ref_no = ?", filter.RefNo)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// SumByBucket 按科目汇总流水金额
func (r *LedgerEntryRepository) SumByBucket(ctx context.Context, distributorID int64) (map[models.Bucket]decimal.Decimal, error) {
	type row struct {
		Bucket models.Bucket
		Total  decimal.Decimal
	}

	var rows []row
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("bucket, COALESCE(SUM(amount), 0) AS total").
		Where("distributor_id = ?", distributorID).
		Group("bucket").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	sums := make(map[models.Bucket]decimal.Decimal, len(models.AllBuckets))
	for _, b := range models.AllBuckets {
		sums[b] = decimal.Zero
	}
	for _, r := range rows {
		sums[r.Bucket] = r.Total
	}
	return sums, nil
}

func (r *LedgerEntryRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
