package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	"github.com/dumeirei/mall-ledger/internal/models"
	"github.com/dumeirei/mall-ledger/internal/repository"
)

// 默认投递参数
const (
	DefaultStream    = "ledger:audit"
	DefaultBatchSize = 100
	DefaultMaxLen    = 100000
)

// Publisher 将未投递的审计日志转发到 Redis Stream
//
// 先 XADD 后标记 published_at，中途失败的批次会被重复投递，
// 消费方按 event_id 去重。
type Publisher struct {
	repo      *repository.AuditLogRepository
	rdb       *redis.Client
	stream    string
	maxLen    int64
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewPublisher 创建投递器
func NewPublisher(repo *repository.AuditLogRepository, rdb *redis.Client, cfg *config.AuditConfig, m *metrics.Metrics, log *zap.Logger) *Publisher {
	p := &Publisher{
		repo:      repo,
		rdb:       rdb,
		stream:    DefaultStream,
		maxLen:    DefaultMaxLen,
		batchSize: DefaultBatchSize,
		metrics:   m,
		logger:    logger.OrDefault(log).Named("audit.publisher"),
	}
	if cfg != nil {
		if cfg.Stream != "" {
			p.stream = cfg.Stream
		}
		if cfg.MaxLen > 0 {
			p.maxLen = cfg.MaxLen
		}
		if cfg.BatchSize > 0 {
			p.batchSize = cfg.BatchSize
		}
	}
	return p
}

// Relay 投递一批审计日志，返回投递条数
func (p *Publisher) Relay(ctx context.Context) (int, error) {
	logs, err := p.repo.ListUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(logs) == 0 {
		return 0, nil
	}

	// 批量写入 Stream
	pipe := p.rdb.Pipeline()
	ids := make([]int64, 0, len(logs))
	for _, l := range logs {
		values, err := streamValues(l)
		if err != nil {
			return 0, err
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: true,
			Values: values,
		})
		ids = append(ids, l.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	// 标记已投递
	if err := p.repo.MarkPublished(ctx, ids, time.Now()); err != nil {
		// 已写入 Stream，下次会重复投递
		p.logger.Warn("mark audit logs published failed", zap.Int("count", len(ids)), zap.Error(err))
		return 0, err
	}

	p.metrics.RecordAuditPublished(len(ids))
	p.logger.Debug("audit logs relayed", zap.Int("count", len(ids)), zap.String("stream", p.stream))
	return len(ids), nil
}

// RelayAll 循环投递直到没有待投递日志
func (p *Publisher) RelayAll(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := p.Relay(ctx)
		total += n
		if err != nil || n < p.batchSize {
			return total, err
		}
	}
}

func streamValues(l *models.AuditLog) (map[string]interface{}, error) {
	values := map[string]interface{}{
		"event_id":       l.EventID,
		"event_type":     l.EventType,
		"distributor_id": strconv.FormatInt(l.DistributorID, 10),
		"target_type":    l.TargetType,
		"target_id":      strconv.FormatInt(l.TargetID, 10),
		"target_no":      l.TargetNo,
		"amount":         l.Amount.StringFixed(2),
		"operator_id":    strconv.FormatInt(l.OperatorID, 10),
		"created_at":     l.CreatedAt.Format(time.RFC3339Nano),
	}
	if l.FromStatus != nil {
		values["from_status"] = strconv.Itoa(int(*l.FromStatus))
	}
	if l.ToStatus != nil {
		values["to_status"] = strconv.Itoa(int(*l.ToStatus))
	}
	if len(l.Payload) > 0 {
		b, err := json.Marshal(l.Payload)
		if err != nil {
			return nil, err
		}
		values["payload"] = string(b)
	}
	return values, nil
}
