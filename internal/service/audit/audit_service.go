// Package audit 审计日志服务
package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
)

// Event 审计事件
type Event struct {
	Type          string
	DistributorID int64
	TargetType    string
	TargetID      int64
	TargetNo      string
	FromStatus    *int8
	ToStatus      *int8
	Amount        decimal.Decimal
	OperatorID    int64
	Payload       map[string]interface{}
}

// Service 审计服务
type Service struct {
	repo   *repository.AuditLogRepository
	logger *zap.Logger
}

// NewService 创建审计服务
func NewService(repo *repository.AuditLogRepository, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.OrDefault(log).Named("audit"),
	}
}

// RecordTx 在调用方事务内写入审计日志，事务回滚时日志一并丢弃
func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, e *Event) (*models.AuditLog, error) {
	log := &models.AuditLog{
		EventID:       uuid.NewString(),
		EventType:     e.Type,
		DistributorID: e.DistributorID,
		TargetType:    e.TargetType,
		TargetID:      e.TargetID,
		TargetNo:      e.TargetNo,
		FromStatus:    e.FromStatus,
		ToStatus:      e.ToStatus,
		Amount:        e.Amount,
		OperatorID:    e.OperatorID,
	}
	if len(e.Payload) > 0 {
		log.Payload = models.JSON(e.Payload)
	}

	// 与业务变更同事务落库，Stream 投递由 Publisher 异步完成
	if err := s.repo.Create(ctx, tx, log); err != nil {
		return nil, err
	}

	s.logger.Debug("audit event recorded",
		zap.String("event_id", log.EventID),
		zap.String("event_type", log.EventType),
		logger.DistributorID(log.DistributorID),
	)
	return log, nil
}

// List 分页查询审计日志
func (s *Service) List(ctx context.Context, filter *repository.AuditLogFilter, page *utils.Pagination) ([]*models.AuditLog, int64, error) {
	page.Normalize()
	return s.repo.List(ctx, filter, page.Offset(), page.PageSize)
}

// StatusPtr 状态指针，便于构造 Event
func StatusPtr(s int8) *int8 {
	return &s
}
