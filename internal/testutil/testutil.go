// Package testutil 提供测试辅助工具
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dumeirei/mall-ledger/internal/common/utils"
	"github.com/dumeirei/mall-ledger/internal/models"
)

// NewDB 创建已迁移的内存 SQLite 数据库
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// 内存库按连接隔离，固定单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

// NewRedis 创建 miniredis 及客户端
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// NewLogger 测试用日志
func NewLogger() *zap.Logger {
	return zap.NewNop()
}

// Money 解析金额，格式错误直接 panic
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// CreateDistributor 创建正常状态的分销商，初始余额直接写入
func CreateDistributor(t testing.TB, db *gorm.DB, userID int64, parentID *int64, balances models.Balances) *models.Distributor {
	t.Helper()
	d := &models.Distributor{
		UserID:     userID,
		ParentID:   parentID,
		Level:      models.DistributorLevelPrimary,
		InviteCode: utils.GenerateInviteCode(8),
		Balances:   balances,
		Status:     models.DistributorStatusActive,
	}
	require.NoError(t, db.Create(d).Error)
	return d
}

// ReloadDistributor 重新读取分销商
func ReloadDistributor(t testing.TB, db *gorm.DB, id int64) *models.Distributor {
	t.Helper()
	var d models.Distributor
	require.NoError(t, db.First(&d, id).Error)
	return &d
}

// OrderLine 测试订单行
type OrderLine struct {
	Price    string
	Quantity int
}

// CreateOrder 创建已完成订单
func CreateOrder(t testing.TB, db *gorm.DB, orderNo string, userID int64, distributorID *int64, discount, points string, pointsUsed int64, lines ...OrderLine) *models.Order {
	t.Helper()
	product := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))
	for i, l := range lines {
		price := Money(l.Price)
		total := price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		product = product.Add(total)
		items = append(items, models.OrderItem{
			ProductID:   int64(i + 1),
			ProductName: "商品" + decimal.NewFromInt(int64(i+1)).String(),
			Price:       price,
			Quantity:    l.Quantity,
			TotalAmount: total,
		})
	}
	d, p := Money(discount), Money(points)
	order := &models.Order{
		OrderNo:        orderNo,
		UserID:         userID,
		DistributorID:  distributorID,
		Status:         models.OrderStatusCompleted,
		ProductAmount:  product,
		DiscountAmount: d,
		PointAmount:    p,
		PointsUsed:     pointsUsed,
		ActualAmount:   product.Sub(d).Sub(p),
		Items:          items,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}
