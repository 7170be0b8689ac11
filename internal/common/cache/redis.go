// Package cache 提供 Redis 连接与分布式锁
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefixLock 锁键前缀
const KeyPrefixLock = "ledger:lock:"

// ErrLockNotAcquired 锁已被其他实例持有
var ErrLockNotAcquired = errors.New("lock not acquired")

// Init 初始化 Redis 连接
func Init(cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return rdb, nil
}

// 仅当值匹配时删除，避免释放他人持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 基于 SET NX PX 的互斥锁，用于多实例部署下定时任务的单点执行
type Locker struct {
	rdb *redis.Client
}

// NewLocker 创建锁管理器
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Lock 已获取的锁
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire 尝试获取锁，已被占用时返回 ErrLockNotAcquired
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := KeyPrefixLock + name
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &Lock{rdb: l.rdb, key: key, token: token}, nil
}

// Release 释放锁
func (lk *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, lk.rdb, []string{lk.key}, lk.token).Err()
}
