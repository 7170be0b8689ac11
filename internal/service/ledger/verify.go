package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
)

const verifyBatch = 200

// BucketCheck 单科目对账结果
type BucketCheck struct {
	Bucket  models.Bucket   `json:"bucket"`
	Stored  decimal.Decimal `json:"stored"`
	Journal decimal.Decimal `json:"journal"`
	Diff    decimal.Decimal `json:"diff"`
}

// VerifyResult 账户对账结果
type VerifyResult struct {
	DistributorID   int64           `json:"distributor_id"`
	Buckets         []BucketCheck   `json:"buckets"`
	OutstandingHold decimal.Decimal `json:"outstanding_hold"`
	Balanced        bool            `json:"balanced"`
}

// Verify 用流水重算各科目余额并与账户余额比对，冻结余额还需等于未终结提现金额之和
func (s *Service) Verify(ctx context.Context, distributorID int64) (*VerifyResult, error) {
	d, err := s.GetAccount(ctx, distributorID)
	if err != nil {
		return nil, err
	}

	// 汇总流水与未终结提现
	sums, err := s.entryRepo.SumByBucket(ctx, distributorID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	hold, err := s.withdrawalRepo.SumOutstanding(ctx, distributorID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	result := &VerifyResult{
		DistributorID:   distributorID,
		OutstandingHold: utils.RoundMoney(hold),
		Balanced:        true,
	}
	// 逐科目比对
	for _, b := range models.AllBuckets {
		stored := d.Balances.Get(b)
		journal := utils.RoundMoney(sums[b])
		diff := stored.Sub(journal)
		if !diff.IsZero() {
			result.Balanced = false
		}
		result.Buckets = append(result.Buckets, BucketCheck{
			Bucket:  b,
			Stored:  stored,
			Journal: journal,
			Diff:    diff,
		})
	}
	// 冻结余额必须等于在途提现
	if !d.Frozen.Equal(result.OutstandingHold) {
		result.Balanced = false
	}

	if !result.Balanced {
		s.logger.Warn("ledger verification mismatch",
			logger.DistributorID(distributorID),
			zap.Any("buckets", result.Buckets),
			zap.String("outstanding_hold", result.OutstandingHold.StringFixed(2)),
		)
	}
	return result, nil
}

// VerifyAll 逐个核对全部分销商账户，返回不平的账户 ID
func (s *Service) VerifyAll(ctx context.Context) ([]int64, error) {
	var unbalanced []int64
	var afterID int64
	for {
		ids, err := s.distributorRepo.ListIDs(ctx, afterID, verifyBatch)
		if err != nil {
			return unbalanced, errors.ErrDatabaseError.WithError(err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return unbalanced, err
			}
			res, err := s.Verify(ctx, id)
			if err != nil {
				return unbalanced, err
			}
			if !res.Balanced {
				unbalanced = append(unbalanced, id)
			}
		}
		if len(ids) < verifyBatch {
			return unbalanced, nil
		}
		afterID = ids[len(ids)-1]
	}
}
