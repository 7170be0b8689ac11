package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/dumeirei/mall-ledger/internal/common/logger"
	"github.com/dumeirei/mall-ledger/internal/common/response"
)

// KeyPrefixRateLimit 限流计数键前缀
const KeyPrefixRateLimit = "ledger:ratelimit:"

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RedisClient *redis.Client
	Limit       int                       // 窗口内允许次数
	Window      time.Duration             // 固定窗口长度
	KeyFunc     func(*gin.Context) string // 计数键，不含前缀
}

// RateLimit 固定窗口限流，Redis 不可用时放行
func RateLimit(config *RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.RedisClient == nil || config.Limit <= 0 {
			c.Next()
			return
		}
		key := KeyPrefixRateLimit + config.KeyFunc(c)
		ctx := c.Request.Context()

		count, err := config.RedisClient.Incr(ctx, key).Result()
		if err != nil {
			logger.GetLogger().Warn("rate limit unavailable", logger.RequestID(GetRequestID(c)), logger.Err(err))
			c.Next()
			return
		}

		// 首次请求开启窗口
		if count == 1 {
			config.RedisClient.Expire(ctx, key, config.Window)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Limit))
		if int(count) > config.Limit {
			ttl, _ := config.RedisClient.TTL(ctx, key).Result()
			if ttl < 0 {
				ttl = config.Window
			}
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			response.TooManyRequests(c, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(config.Limit-int(count)))

		c.Next()
	}
}

// IPRateLimit 按客户端 IP 限流
func IPRateLimit(redisClient *redis.Client, limit int, window time.Duration) gin.HandlerFunc {
	return RateLimit(&RateLimitConfig{
		RedisClient: redisClient,
		Limit:       limit,
		Window:      window,
		KeyFunc: func(c *gin.Context) string {
			return "ip:" + c.ClientIP()
		},
	})
}

// UserRateLimit 按登录用户与接口限流，需挂在认证中间件之后
//
// 未取到用户时退化为按 IP 计数。
func UserRateLimit(redisClient *redis.Client, limit int, window time.Duration) gin.HandlerFunc {
	return RateLimit(&RateLimitConfig{
		RedisClient: redisClient,
		Limit:       limit,
		Window:      window,
		KeyFunc: func(c *gin.Context) string {
			if userID := GetUserID(c); userID > 0 {
				return fmt.Sprintf("user:%d:%s %s", userID, c.Request.Method, c.FullPath())
			}
			return fmt.Sprintf("ip:%s:%s %s", c.ClientIP(), c.Request.Method, c.FullPath())
		},
	})
}
