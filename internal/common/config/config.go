// Package config 提供应用配置管理功能
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	globalConfig *Config
	once         sync.Once
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Payout    PayoutConfig    `mapstructure:"payout"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Business  BusinessConfig  `mapstructure:"business"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Name            string `mapstructure:"name"`
	Mode            string `mapstructure:"mode"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Name            string `mapstructure:"name"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogMode         bool   `mapstructure:"log_mode"`
	SlowThreshold   int    `mapstructure:"slow_threshold"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode, d.Timezone,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// Addr 返回 Redis 地址
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret             string `mapstructure:"secret"`
	AccessTokenExpire  int    `mapstructure:"access_token_expire"`
	RefreshTokenExpire int    `mapstructure:"refresh_token_expire"`
	Issuer             string `mapstructure:"issuer"`
}

// AccessTokenDuration 返回访问令牌有效期
func (j *JWTConfig) AccessTokenDuration() time.Duration {
	return time.Duration(j.AccessTokenExpire) * time.Hour
}

// RefreshTokenDuration 返回刷新令牌有效期
func (j *JWTConfig) RefreshTokenDuration() time.Duration {
	return time.Duration(j.RefreshTokenExpire) * time.Hour
}

// CryptoConfig 加密配置
type CryptoConfig struct {
	AESKey string `mapstructure:"aes_key"`
}

// PayoutConfig 打款渠道配置
type PayoutConfig struct {
	Provider         string `mapstructure:"provider"` // mock / http
	Endpoint         string `mapstructure:"endpoint"`
	MchID            string `mapstructure:"mch_id"`
	AppID            string `mapstructure:"app_id"`
	APIKey           string `mapstructure:"api_key"`
	Timeout          int    `mapstructure:"timeout"` // 秒
	MaxQueryAttempts int    `mapstructure:"max_query_attempts"`
}

// RequestTimeout 返回单次打款请求超时
func (p *PayoutConfig) RequestTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// AuditConfig 审计事件投递配置
type AuditConfig struct {
	Stream        string `mapstructure:"stream"`
	MaxLen        int64  `mapstructure:"max_len"`
	BatchSize     int    `mapstructure:"batch_size"`
	RelayInterval int    `mapstructure:"relay_interval"` // 秒
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	SettleInterval    int  `mapstructure:"settle_interval"`    // 分钟
	ReconcileInterval int  `mapstructure:"reconcile_interval"` // 分钟
	ReverseInterval   int  `mapstructure:"reverse_interval"`   // 分钟
	VerifyInterval    int  `mapstructure:"verify_interval"`    // 分钟
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Caller     bool   `mapstructure:"caller"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// RateLimitConfig 限流配置，窗口单位为秒
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// IPLimit 每个 IP 每窗口请求数
	IPLimit  int `mapstructure:"ip_limit"`
	IPWindow int `mapstructure:"ip_window"`
	// WriteLimit 提现申请与人工调账每用户每窗口次数
	WriteLimit  int `mapstructure:"write_limit"`
	WriteWindow int `mapstructure:"write_window"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// BusinessConfig 业务配置
type BusinessConfig struct {
	Distribution DistributionConfig `mapstructure:"distribution"`
	Refund       RefundConfig       `mapstructure:"refund"`
}

// DistributionConfig 分销配置
type DistributionConfig struct {
	Level1Rate         float64 `mapstructure:"level1_rate"`
	Level2Rate         float64 `mapstructure:"level2_rate"`
	MaxLevel           int     `mapstructure:"max_level"`
	MinWithdrawAmount  float64 `mapstructure:"min_withdraw_amount"`
	WithdrawFeeRate    float64 `mapstructure:"withdraw_fee_rate"`
	MaxPendingWithdraw int     `mapstructure:"max_pending_withdraw"`
	SettleDelayDays    int     `mapstructure:"settle_delay_days"`
}

// RefundConfig 退款分摊配置
type RefundConfig struct {
	// ReconcileRemainder 整单退货时把分摊尾差计入最后一行
	ReconcileRemainder bool `mapstructure:"reconcile_remainder"`
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		v := viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./configs")
			v.AddConfigPath(".")
		}

		// 环境变量支持，例如 PAYOUT_ENDPOINT 覆盖 payout.endpoint
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		globalConfig = &Config{}
		err = v.Unmarshal(globalConfig)
	})

	return globalConfig, err
}

// LoadFrom 从指定文件读取配置，不影响全局配置
func LoadFrom(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		globalConfig = Default()
	}
	return globalConfig
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "mall-ledger")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.port", 8100)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 10)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "mall_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "Asia/Shanghai")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_mode", true)
	v.SetDefault("database.slow_threshold", 200)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.dial_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.access_token_expire", 24)
	v.SetDefault("jwt.refresh_token_expire", 720)
	v.SetDefault("jwt.issuer", "mall-ledger")

	v.SetDefault("crypto.aes_key", "0123456789abcdef0123456789abcdef")

	v.SetDefault("payout.provider", "mock")
	v.SetDefault("payout.timeout", 10)
	v.SetDefault("payout.max_query_attempts", 3)

	v.SetDefault("audit.stream", "ledger:audit")
	v.SetDefault("audit.max_len", 100000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.relay_interval", 5)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.settle_interval", 60)
	v.SetDefault("scheduler.reconcile_interval", 5)
	v.SetDefault("scheduler.reverse_interval", 30)
	v.SetDefault("scheduler.verify_interval", 360)

	v.SetDefault("logger.level", "debug")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "./logs/ledger.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "mall-ledger")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.ip_limit", 600)
	v.SetDefault("ratelimit.ip_window", 60)
	v.SetDefault("ratelimit.write_limit", 10)
	v.SetDefault("ratelimit.write_window", 60)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"})
	v.SetDefault("cors.exposed_headers", []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 86400)

	v.SetDefault("business.distribution.level1_rate", 0.10)
	v.SetDefault("business.distribution.level2_rate", 0.05)
	v.SetDefault("business.distribution.max_level", 2)
	v.SetDefault("business.distribution.min_withdraw_amount", 10.00)
	v.SetDefault("business.distribution.withdraw_fee_rate", 0.006)
	v.SetDefault("business.distribution.max_pending_withdraw", 5)
	v.SetDefault("business.distribution.settle_delay_days", 7)
	v.SetDefault("business.refund.reconcile_remainder", false)
}

// IsDebug 是否为调试模式
func (c *Config) IsDebug() bool {
	return c.Server.Mode == "debug"
}

// IPWindowDuration IP 限流窗口
func (c *RateLimitConfig) IPWindowDuration() time.Duration {
	return time.Duration(c.IPWindow) * time.Second
}

// WriteWindowDuration 资金写接口限流窗口
func (c *RateLimitConfig) WriteWindowDuration() time.Duration {
	return time.Duration(c.WriteWindow) * time.Second
}

// IsRelease 是否为发布模式
func (c *Config) IsRelease() bool {
	return c.Server.Mode == "release"
}
