// Package metrics 提供 Prometheus 指标收集
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标收集器，nil 接收者上的记录方法均为空操作
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	ledgerMutationsTotal      *prometheus.CounterVec
	withdrawalTransitions     *prometheus.CounterVec
	payoutRequestsTotal       *prometheus.CounterVec
	payoutRequestDuration     *prometheus.HistogramVec
	returnAllocationsTotal    prometheus.Counter
	commissionReversalsTotal  *prometheus.CounterVec
	auditEventsPublishedTotal prometheus.Counter
}

// New 在给定注册表上创建指标，reg 为 nil 时使用独立注册表
func New(namespace string, reg *prometheus.Registry) *Metrics {
	namespace = strings.ReplaceAll(namespace, "-", "_")
	if namespace == "" {
		namespace = "mall_ledger"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		httpRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		}),
		ledgerMutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_mutations_total",
			Help:      "Ledger journal entries written, by entry type and bucket",
		}, []string{"type", "bucket"}),
		withdrawalTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawal_transitions_total",
			Help:      "Withdrawal state transitions",
		}, []string{"from", "to"}),
		payoutRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_requests_total",
			Help:      "Payout gateway calls by operation and result",
		}, []string{"op", "result"}),
		payoutRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payout_request_duration_seconds",
			Help:      "Payout gateway call latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		returnAllocationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "return_allocations_total",
			Help:      "Return lines allocated",
		}),
		commissionReversalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_reversals_total",
			Help:      "Commission entries reversed on returns, by outcome",
		}, []string{"outcome"}),
		auditEventsPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_published_total",
			Help:      "Audit events relayed to the stream",
		}),
	}
}

// Middleware 返回 Gin 中间件
func (m *Metrics) Middleware(metricsPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.Request.URL.Path == metricsPath {
			c.Next()
			return
		}

		start := time.Now()
		m.httpRequestsInFlight.Inc()
		c.Next()
		m.httpRequestsInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler 返回 Prometheus HTTP 处理器
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerMutation 记录账本流水写入
func (m *Metrics) RecordLedgerMutation(entryType, bucket string) {
	if m == nil {
		return
	}
	m.ledgerMutationsTotal.WithLabelValues(entryType, bucket).Inc()
}

// RecordWithdrawalTransition 记录提现状态迁移
func (m *Metrics) RecordWithdrawalTransition(from, to string) {
	if m == nil {
		return
	}
	m.withdrawalTransitions.WithLabelValues(from, to).Inc()
}

// RecordPayout 记录打款渠道调用
func (m *Metrics) RecordPayout(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.payoutRequestsTotal.WithLabelValues(op, result).Inc()
	m.payoutRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordReturnAllocations 记录退货分摊行数
func (m *Metrics) RecordReturnAllocations(lines int) {
	if m == nil {
		return
	}
	m.returnAllocationsTotal.Add(float64(lines))
}

// RecordCommissionReversal 记录佣金冲回，outcome: reversed / frozen
func (m *Metrics) RecordCommissionReversal(outcome string) {
	if m == nil {
		return
	}
	m.commissionReversalsTotal.WithLabelValues(outcome).Inc()
}

// RecordAuditPublished 记录已投递审计事件数
func (m *Metrics) RecordAuditPublished(n int) {
	if m == nil {
		return
	}
	m.auditEventsPublishedTotal.Add(float64(n))
}
