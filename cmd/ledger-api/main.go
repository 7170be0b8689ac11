// Package main 是账本服务入口
//
// @title 商城分销账本 API
// @version 1.0
// @description 分销佣金账本、提现、退货分摊与审计
// @BasePath /
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/mall-ledger/internal/common/cache"
	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/dumeirei/mall-ledger/internal/common/database"
	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/tracing"
	"github.com/dumeirei/mall-ledger/internal/models"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(&cfg.Logger); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.GetLogger()

	log.Info("Starting mall ledger",
		zap.String("version", version),
		zap.String("env", cfg.Server.Mode),
	)

	// 链路追踪
	tp, err := tracing.Init(&cfg.Tracing, cfg.Server.Mode)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}

	// 初始化数据库连接
	db, err := database.Init(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// 自动迁移
	if cfg.Database.AutoMigrate {
		if err := models.AutoMigrate(db); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	// 初始化 Redis 连接
	redisClient, err := cache.Init(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Redis connected successfully")

	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	// 装配服务与路由
	engine := gin.New()
	app, err := setupRouter(engine, cfg, log, db, redisClient)
	if err != nil {
		log.Fatal("Failed to setup router", zap.Error(err))
	}

	// 启动定时任务
	if cfg.Scheduler.Enabled {
		app.scheduler.Start()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 启动 HTTP 服务
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// 停止定时任务并释放任务锁，需在关闭 Redis 之前
	if cfg.Scheduler.Enabled {
		app.scheduler.Stop()
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Warn("Tracing shutdown failed", zap.Error(err))
	}

	if err := database.Close(db); err != nil {
		log.Warn("Database close failed", zap.Error(err))
	}

	log.Info("Server exited")
}
