// Package logger 提供结构化日志功能
package logger

import (
	"os"
	"time"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log *zap.Logger

// Init 初始化全局日志
func Init(cfg *config.LoggerConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	log = l
	return nil
}

// New 按配置构建日志器，stdout 与滚动文件可同时输出
func New(cfg *config.LoggerConfig) (*zap.Logger, error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writers []zapcore.WriteSyncer
	if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}
	if cfg.FilePath != "" && cfg.Output != "stdout" && cfg.Output != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), parseLevel(cfg.Level))

	options := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Caller {
		options = append(options, zap.AddCaller())
	}
	return zap.New(core, options...), nil
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger 获取全局日志器，未初始化时返回开发模式日志器
func GetLogger() *zap.Logger {
	if log == nil {
		log, _ = zap.NewDevelopment()
	}
	return log
}

// OrDefault 服务构造时使用：传入 nil 则回落到全局日志器
func OrDefault(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return GetLogger()
}

// Sync 同步日志
func Sync() error {
	if log != nil {
		return log.Sync()
	}
	return nil
}

// Named 返回命名日志器
func Named(name string) *zap.Logger {
	return GetLogger().Named(name)
}

// 常用字段构造函数
var (
	String = zap.String
	Int64  = zap.Int64
	Err    = zap.Error
)

// RequestID 请求ID字段
func RequestID(id string) zap.Field {
	return zap.String("request_id", id)
}

// UserID 用户ID字段
func UserID(id int64) zap.Field {
	return zap.Int64("user_id", id)
}

// OperatorID 操作人ID字段
func OperatorID(id int64) zap.Field {
	return zap.Int64("operator_id", id)
}

// DistributorID 分销商ID字段
func DistributorID(id int64) zap.Field {
	return zap.Int64("distributor_id", id)
}

// EntryID 流水ID字段
func EntryID(id int64) zap.Field {
	return zap.Int64("entry_id", id)
}

// WithdrawalNo 提现单号字段
func WithdrawalNo(no string) zap.Field {
	return zap.String("withdrawal_no", no)
}

// OrderNo 订单号字段
func OrderNo(no string) zap.Field {
	return zap.String("order_no", no)
}

// Amount 金额字段
func Amount(v interface{ String() string }) zap.Field {
	return zap.String("amount", v.String())
}

// Module 模块字段
func Module(name string) zap.Field {
	return zap.String("module", name)
}

// Latency 延迟字段
func Latency(d time.Duration) zap.Field {
	return zap.Duration("latency", d)
}
