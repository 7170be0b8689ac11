package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "github.com/dumeirei/mall-ledger/docs"
	"github.com/dumeirei/mall-ledger/internal/common/cache"
	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/crypto"
	"github.com/dumeirei/mall-ledger/internal/common/jwt"
	"github.com/dumeirei/mall-ledger/internal/common/metrics"
	adminHandler "github.com/dumeirei/mall-ledger/internal/handler/admin"
	distributionHandler "github.com/dumeirei/mall-ledger/internal/handler/distribution"
	"github.com/dumeirei/mall-ledger/internal/middleware"
	"github.com/dumeirei/mall-ledger/internal/repository"
	"github.com/dumeirei/mall-ledger/internal/scheduler"
	"github.com/dumeirei/mall-ledger/internal/service/audit"
	"github.com/dumeirei/mall-ledger/internal/service/distribution"
	"github.com/dumeirei/mall-ledger/internal/service/ledger"
	"github.com/dumeirei/mall-ledger/internal/service/refund"
	"github.com/dumeirei/mall-ledger/pkg/payout"
)

// accountCipherInfo 提现收款账户加密密钥的派生标识
const accountCipherInfo = "withdraw-account"

// application 装配完成的服务
type application struct {
	jwt       *jwt.Manager
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
}

// newGateway 按配置选择打款渠道
func newGateway(cfg *config.PayoutConfig) (payout.Gateway, error) {
	if cfg.Provider != "http" {
		return payout.NewMockClient(), nil
	}
	return payout.NewClient(payout.Config{
		Endpoint:   cfg.Endpoint,
		MchID:      cfg.MchID,
		AppID:      cfg.AppID,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.RequestTimeout(),
		MaxRetries: 2,
	})
}

// setupRouter 装配服务并设置路由
func setupRouter(
	r *gin.Engine,
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	redisClient *redis.Client,
) (*application, error) {
	jwtManager := jwt.NewManager(&cfg.JWT)
	m := metrics.New(cfg.Server.Name, nil)

	cipher, err := crypto.NewAES(cfg.Crypto.AESKey, accountCipherInfo)
	if err != nil {
		return nil, err
	}
	gateway, err := newGateway(&cfg.Payout)
	if err != nil {
		return nil, err
	}

	// 初始化仓储
	distributorRepo := repository.NewDistributorRepository(db)
	entryRepo := repository.NewLedgerEntryRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)
	commissionRepo := repository.NewCommissionRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	returnRepo := repository.NewReturnRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// 初始化服务
	distCfg := &cfg.Business.Distribution
	auditSvc := audit.NewService(auditRepo, logger)
	publisher := audit.NewPublisher(auditRepo, redisClient, &cfg.Audit, m, logger)
	ledgerSvc := ledger.NewService(db, distributorRepo, entryRepo, withdrawalRepo, auditSvc, m, logger)
	distributorSvc := distribution.NewDistributorService(db, distributorRepo, withdrawalRepo, auditSvc, logger)
	commissionSvc := distribution.NewCommissionService(db, commissionRepo, distributorRepo, orderRepo, ledgerSvc, auditSvc, distCfg, m, logger)
	withdrawSvc := distribution.NewWithdrawService(db, withdrawalRepo, ledgerSvc, auditSvc, gateway, cipher, distCfg, &cfg.Payout, m, logger)
	returnSvc := refund.NewReturnService(db, orderRepo, returnRepo, commissionSvc, auditSvc, &cfg.Business.Refund, m, logger)

	// 定时任务
	sched := scheduler.NewScheduler(cache.NewLocker(redisClient), logger)
	scheduler.NewTaskHandler(commissionSvc, withdrawSvc, publisher, ledgerSvc, logger).
		Register(sched, &cfg.Scheduler, &cfg.Audit)

	// 资金写接口按用户限流
	var writeLimit gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		writeLimit = middleware.UserRateLimit(redisClient, cfg.RateLimit.WriteLimit, cfg.RateLimit.WriteWindowDuration())
	}

	// 初始化处理器
	distH := distributionHandler.NewHandler(distributorSvc, commissionSvc, withdrawSvc, ledgerSvc).
		WithWithdrawLimit(writeLimit)
	financeH := adminHandler.NewFinanceHandler(withdrawSvc, ledgerSvc, auditSvc).
		WithAdjustLimit(writeLimit)
	adminDistH := adminHandler.NewDistributionHandler(distributorSvc, commissionSvc)
	orderH := adminHandler.NewOrderHandler(returnSvc)

	// 全局中间件
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.CORS(&cfg.CORS))
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(cfg.Tracing.ServiceName))
	}
	if cfg.Metrics.Enabled {
		r.Use(m.Middleware(cfg.Metrics.Path))
		r.GET(cfg.Metrics.Path, m.Handler())
	}

	// 健康检查
	r.GET("/health", healthHandler)
	r.GET("/ready", readyHandler(db, redisClient))

	if cfg.Server.Mode != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		v1.Use(middleware.IPRateLimit(redisClient, cfg.RateLimit.IPLimit, cfg.RateLimit.IPWindowDuration()))
	}

	// 分销商端
	distH.RegisterRoutes(v1.Group("/distribution", middleware.UserAuth(jwtManager)))

	// 管理端
	admin := v1.Group("/admin", middleware.AdminAuth(jwtManager))
	adminDistH.RegisterRoutes(admin.Group("/distribution"))

	finance := admin.Group("", middleware.RequireFinance())
	financeH.RegisterRoutes(finance.Group("/finance"))
	orderH.RegisterRoutes(finance)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    404,
			"message": "接口不存在",
		})
	})

	return &application{jwt: jwtManager, metrics: m, scheduler: sched}, nil
}
