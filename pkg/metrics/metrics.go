package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 支付对账管线指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 回调/对账指标
	webhookEventsTotal   *prometheus.CounterVec
	reconcileDuration    *prometheus.HistogramVec
	materializationsTotal *prometheus.CounterVec

	// 退款/请款指标
	refundsTotal  *prometheus.CounterVec
	capturesTotal *prometheus.CounterVec

	// 补单指标
	orphansFound     prometheus.Counter
	recoveriesTotal  *prometheus.CounterVec
}

// NewCollector 创建指标收集器
func NewCollector() *Collector {
	return &Collector{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		webhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhook_events_total",
				Help: "Webhook events received, by provider, kind and outcome",
			},
			// outcome: applied / materialized / noop / duplicate / rejected / error
			[]string{"provider", "kind", "outcome"},
		),

		reconcileDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_reconcile_duration_seconds",
				Help:    "Reconciler HandleEvent duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		materializationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_order_materializations_total",
				Help: "Orders materialized from provider confirmations",
			},
			// trigger: webhook / recovery
			[]string{"provider", "trigger"},
		),

		refundsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_refunds_total",
				Help: "Refund requests, by provider and result",
			},
			[]string{"provider", "result"},
		),

		capturesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_captures_total",
				Help: "Capture requests, by provider and result",
			},
			[]string{"provider", "result"},
		),

		orphansFound: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_orphans_found_total",
				Help: "Provider-side successful payments with no local order",
			},
		),

		recoveriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_recoveries_total",
				Help: "Recovery replays, by provider and result",
			},
			[]string{"provider", "result"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordWebhookEvent 记录回调事件处理结果
func (c *Collector) RecordWebhookEvent(provider, kind, outcome string) {
	c.webhookEventsTotal.WithLabelValues(provider, kind, outcome).Inc()
}

// RecordReconcile 记录一次对账耗时
func (c *Collector) RecordReconcile(provider string, duration time.Duration) {
	c.reconcileDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordMaterialization 记录一次订单落库
func (c *Collector) RecordMaterialization(provider, trigger string) {
	c.materializationsTotal.WithLabelValues(provider, trigger).Inc()
}

// RecordRefund 记录退款结果
func (c *Collector) RecordRefund(provider, result string) {
	c.refundsTotal.WithLabelValues(provider, result).Inc()
}

// RecordCapture 记录请款结果
func (c *Collector) RecordCapture(provider, result string) {
	c.capturesTotal.WithLabelValues(provider, result).Inc()
}

// RecordOrphans 记录发现的孤儿支付数量
func (c *Collector) RecordOrphans(n int) {
	c.orphansFound.Add(float64(n))
}

// RecordRecovery 记录补单结果
func (c *Collector) RecordRecovery(provider, result string) {
	c.recoveriesTotal.WithLabelValues(provider, result).Inc()
}

// Default 全局默认收集器（模块初始化时创建一次）
var Default *Collector

// Init 初始化全局收集器
func Init() *Collector {
	if Default == nil {
		Default = NewCollector()
	}
	return Default
}
