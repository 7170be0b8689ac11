package distribution

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/errors"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
)

const inviteCodeLength = 8

// DistributorService 分销商账户服务：注册、审核、启停用
//
// 余额列只由账本服务写入，这里只改状态。
type DistributorService struct {
	db              *gorm.DB
	distributorRepo *repository.DistributorRepository
	withdrawalRepo  *repository.WithdrawalRepository
	audit           *audit.Service
	logger          *zap.Logger
}

// NewDistributorService 创建分销商服务
func NewDistributorService(
	db *gorm.DB,
	distributorRepo *repository.DistributorRepository,
	withdrawalRepo *repository.WithdrawalRepository,
	auditSvc *audit.Service,
	log *zap.Logger,
) *DistributorService {
	return &DistributorService{
		db:              db,
		distributorRepo: distributorRepo,
		withdrawalRepo:  withdrawalRepo,
		audit:           auditSvc,
		logger:          logger.OrDefault(log).Named("distributor"),
	}
}

// RegisterRequest 申请成为分销商
type RegisterRequest struct {
	UserID     int64  `json:"-"`
	InviteCode string `json:"invite_code"` // 上级邀请码
}

// Register 申请成为分销商，待审核
func (s *DistributorService) Register(ctx context.Context, req *RegisterRequest) (*models.Distributor, error) {
	if req.UserID <= 0 {
		return nil, errors.ErrInvalidParams.WithMessage("用户ID无效")
	}

	// 检查是否已是分销商
	if _, err := s.distributorRepo.GetByUserID(ctx, req.UserID); err == nil {
		return nil, errors.ErrAlreadyExists.WithMessage("您已经是分销商了")
	} else if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	// 查找上级分销商
	var parentID *int64
	if req.InviteCode != "" {
		parent, err := s.distributorRepo.GetByInviteCode(ctx, req.InviteCode)
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.ErrInviteCodeInvalid
			}
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		if !parent.IsActive() {
			return nil, errors.ErrInviteCodeInvalid.WithMessage("邀请人尚未通过审核")
		}
		parentID = &parent.ID
	}

	// 生成邀请码
	inviteCode, err := s.generateInviteCode(ctx)
	if err != nil {
		return nil, err
	}

	// 创建分销商，待审核
	d := &models.Distributor{
		UserID:     req.UserID,
		ParentID:   parentID,
		Level:      models.DistributorLevelPrimary,
		InviteCode: inviteCode,
		Status:     models.DistributorStatusPending,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 用户唯一索引兜底并发注册
		if err := s.distributorRepo.Create(ctx, tx, d); err != nil {
			if stderrors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.ErrAlreadyExists.WithMessage("您已经是分销商了")
			}
			return errors.ErrDatabaseError.WithError(err)
		}
		return s.record(ctx, tx, models.AuditDistributorRegistered, d, nil, models.DistributorStatusPending, req.UserID, map[string]interface{}{
			"invite_code": req.InviteCode,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("distributor registered", logger.DistributorID(d.ID), logger.UserID(d.UserID))
	return d, nil
}

// generateInviteCode 生成唯一邀请码
func (s *DistributorService) generateInviteCode(ctx context.Context) (string, error) {
	// 冲突时重新生成
	for i := 0; i < 10; i++ {
		code := utils.GenerateInviteCode(inviteCodeLength)
		_, err := s.distributorRepo.GetByInviteCode(ctx, code)
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return code, nil
		}
		if err != nil {
			return "", errors.ErrDatabaseError.WithError(err)
		}
	}
	return "", errors.ErrInternalError.WithMessage("生成邀请码失败，请重试")
}

// Approve 审核分销商申请，通过后状态为正常，拒绝则直接禁用
func (s *DistributorService) Approve(ctx context.Context, distributorID, operatorID int64, approved bool) (*models.Distributor, error) {
	to := int8(models.DistributorStatusDisabled)
	var approvedAt *time.Time
	if approved {
		now := time.Now()
		to = models.DistributorStatusActive
		approvedAt = &now
	}
	return s.transition(ctx, distributorID, models.DistributorStatusPending, to, operatorID, approvedAt)
}

// Disable 禁用分销商：不再产生佣金，也不能申请提现；已在途的提现不受影响
func (s *DistributorService) Disable(ctx context.Context, distributorID, operatorID int64) (*models.Distributor, error) {
	return s.transition(ctx, distributorID, models.DistributorStatusActive, models.DistributorStatusDisabled, operatorID, nil)
}

// Enable 重新启用分销商
func (s *DistributorService) Enable(ctx context.Context, distributorID, operatorID int64) (*models.Distributor, error) {
	return s.transition(ctx, distributorID, models.DistributorStatusDisabled, models.DistributorStatusActive, operatorID, nil)
}

func (s *DistributorService) transition(ctx context.Context, distributorID int64, from, to int8, operatorID int64, approvedAt *time.Time) (*models.Distributor, error) {
	// 验证当前状态
	d, err := s.GetByID(ctx, distributorID)
	if err != nil {
		return nil, err
	}
	if d.Status != from {
		return nil, errors.ErrDistributorStatus
	}

	// 更新状态并写审计，并发修改时以条件更新为准
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.distributorRepo.UpdateStatus(ctx, tx, d.ID, from, to, approvedAt); err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrDistributorStatus
			}
			return errors.ErrDatabaseError.WithError(err)
		}
		return s.record(ctx, tx, models.AuditDistributorStatus, d, &from, to, operatorID, nil)
	})
	if err != nil {
		return nil, err
	}

	d.Status = to
	if approvedAt != nil {
		d.ApprovedAt = approvedAt
	}
	s.logger.Info("distributor status changed",
		logger.DistributorID(d.ID),
		zap.Int8("from", from),
		zap.Int8("to", to),
		logger.OperatorID(operatorID),
	)
	return d, nil
}

// GetByID 获取分销商
func (s *DistributorService) GetByID(ctx context.Context, id int64) (*models.Distributor, error) {
	d, err := s.distributorRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDistributorNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return d, nil
}

// GetByUserID 根据用户 ID 获取分销商
func (s *DistributorService) GetByUserID(ctx context.Context, userID int64) (*models.Distributor, error) {
	d, err := s.distributorRepo.GetByUserID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDistributorNotFound.WithMessage("您还不是分销商")
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return d, nil
}

// List 分页查询分销商
func (s *DistributorService) List(ctx context.Context, filter *repository.DistributorFilter, page *utils.Pagination) ([]*models.Distributor, int64, error) {
	page.Normalize()
	list, total, err := s.distributorRepo.List(ctx, filter, page.Offset(), page.PageSize)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return list, total, nil
}

// Overview 分销商账户概览
type Overview struct {
	Distributor *models.Distributor         `json:"distributor"`
	Settled     decimal.Decimal             `json:"settled"` // 累计已结算佣金
	Withdrawals *repository.WithdrawalStats `json:"withdrawals"`
}

// GetOverview 获取账户概览
func (s *DistributorService) GetOverview(ctx context.Context, distributorID int64) (*Overview, error) {
	d, err := s.GetByID(ctx, distributorID)
	if err != nil {
		return nil, err
	}
	stats, err := s.withdrawalRepo.GetStats(ctx, distributorID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return &Overview{Distributor: d, Settled: d.Settled(), Withdrawals: stats}, nil
}

func (s *DistributorService) record(ctx context.Context, tx *gorm.DB, event string, d *models.Distributor, from *int8, to int8, operatorID int64, payload map[string]interface{}) error {
	_, err := s.audit.RecordTx(ctx, tx, &audit.Event{
		Type:          event,
		DistributorID: d.ID,
		TargetType:    models.AuditTargetDistributor,
		TargetID:      d.ID,
		TargetNo:      d.InviteCode,
		FromStatus:    from,
		ToStatus:      audit.StatusPtr(to),
		OperatorID:    operatorID,
		Payload:       payload,
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}
