// Package tracing 提供 OpenTelemetry 分布式追踪
package tracing

import (
	"context"
	"fmt"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/dumeirei/mall-ledger"

// Provider 追踪提供者包装，未启用时 provider 为空
type Provider struct {
	provider *sdktrace.TracerProvider
}

// Init 初始化全局追踪器；未启用时保留 otel 默认的空实现
func Init(cfg *config.TracingConfig, environment string) (*Provider, error) {
	if cfg == nil || !cfg.Enabled {
		return &Provider{}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("创建资源失败: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if cfg.Endpoint != "" {
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		exporter, err = otlptrace.New(context.Background(), client)
		if err != nil {
			return nil, fmt.Errorf("创建 OTLP 导出器失败: %w", err)
		}
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("创建 stdout 导出器失败: %w", err)
		}
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{provider: provider}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown 刷新并关闭导出器
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// Start 从全局提供者开始一个 span
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End 结束 span，err 非空时记录错误并标记失败
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddEvent 添加事件到当前 span
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// 常用属性键
var (
	AttrDistributorID = attribute.Key("ledger.distributor_id")
	AttrEntryID       = attribute.Key("ledger.entry_id")
	AttrBucket        = attribute.Key("ledger.bucket")
	AttrWithdrawalNo  = attribute.Key("withdrawal.no")
	AttrOrderNo       = attribute.Key("order.no")
	AttrOperation     = attribute.Key("operation")
)

// WithDistributorID 分销商 ID 属性
func WithDistributorID(id int64) attribute.KeyValue {
	return AttrDistributorID.Int64(id)
}

// WithEntryID 流水 ID 属性
func WithEntryID(id int64) attribute.KeyValue {
	return AttrEntryID.Int64(id)
}

// WithBucket 余额科目属性
func WithBucket(bucket string) attribute.KeyValue {
	return AttrBucket.String(bucket)
}

// WithWithdrawalNo 提现单号属性
func WithWithdrawalNo(no string) attribute.KeyValue {
	return AttrWithdrawalNo.String(no)
}

// WithOrderNo 订单号属性
func WithOrderNo(no string) attribute.KeyValue {
	return AttrOrderNo.String(no)
}

// WithOperation 操作属性
func WithOperation(op string) attribute.KeyValue {
	return AttrOperation.String(op)
}
