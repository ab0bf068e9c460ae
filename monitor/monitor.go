// Package monitor 暴露引擎运行指标给 Prometheus。
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 报价指标
	quotesGenerated prometheus.Counter
	quotesWithheld  prometheus.Counter
	refreshCycles   prometheus.Counter

	// 提交指标
	submissions    *prometheus.CounterVec
	signLatency    prometheus.Histogram
	networkLatency prometheus.Histogram
	totalLatency   prometheus.Histogram

	// 市场指标
	midPrice prometheus.Gauge
	bidPrice prometheus.Gauge
	askPrice prometheus.Gauge

	// 仓位指标
	position      prometheus.Gauge
	unrealizedPnL prometheus.Gauge

	// 系统指标
	wsConnections  prometheus.Counter
	wsDisconnects  prometheus.Counter
	nonceRefreshes prometheus.Counter
	reconciles     prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "quote",
		Subsystem: "engine",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	latencyBuckets := []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

	m := &Monitor{
		registry: reg,

		quotesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "quotes_generated_total",
			Help:      "策略生成报价总数",
		}),
		quotesWithheld: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "quotes_withheld_total",
			Help:      "策略放弃报价总数",
		}),
		refreshCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "refresh_cycles_total",
			Help:      "撤换报价周期总数",
		}),

		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "submissions_total",
				Help:      "提交动作总数（按结局）",
			},
			[]string{"outcome"},
		),
		signLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sign_latency_seconds",
			Help:      "签名耗时分布（秒）",
			Buckets:   latencyBuckets,
		}),
		networkLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "network_latency_seconds",
			Help:      "发送到确认耗时分布（秒）",
			Buckets:   latencyBuckets,
		}),
		totalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "total_latency_seconds",
			Help:      "端到端提交耗时分布（秒）",
			Buckets:   latencyBuckets,
		}),

		midPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "mid_price",
			Help:      "当前中间价",
		}),
		bidPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bid_price",
			Help:      "当前挂出买价",
		}),
		askPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ask_price",
			Help:      "当前挂出卖价",
		}),

		position: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "position",
			Help:      "当前净仓位",
		}),
		unrealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "unrealized_pnl",
			Help:      "未实现盈亏",
		}),

		wsConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_connections_total",
			Help:      "WebSocket连接次数",
		}),
		wsDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_disconnects_total",
			Help:      "WebSocket断开次数",
		}),
		nonceRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "nonce_refreshes_total",
			Help:      "nonce 重新对齐次数",
		}),
		reconciles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reconciles_total",
			Help:      "未知态对账次数",
		}),
	}

	return m
}

func (m *Monitor) RecordQuoteGenerated() {
	m.quotesGenerated.Inc()
}

func (m *Monitor) RecordQuoteWithheld() {
	m.quotesWithheld.Inc()
}

func (m *Monitor) RecordRefreshCycle() {
	m.refreshCycles.Inc()
}

// RecordSubmission 按结局计数并记录延迟分解。
func (m *Monitor) RecordSubmission(outcome string, signSec, networkSec, totalSec float64) {
	m.submissions.WithLabelValues(outcome).Inc()
	m.signLatency.Observe(signSec)
	m.networkLatency.Observe(networkSec)
	m.totalLatency.Observe(totalSec)
}

func (m *Monitor) UpdateMidPrice(value float64) {
	m.midPrice.Set(value)
}

func (m *Monitor) UpdateBidAsk(bid, ask float64) {
	m.bidPrice.Set(bid)
	m.askPrice.Set(ask)
}

func (m *Monitor) UpdatePosition(value float64) {
	m.position.Set(value)
}

func (m *Monitor) UpdateUnrealizedPnL(value float64) {
	m.unrealizedPnL.Set(value)
}

func (m *Monitor) RecordWSConnection() {
	m.wsConnections.Inc()
}

func (m *Monitor) RecordWSDisconnect() {
	m.wsDisconnects.Inc()
}

func (m *Monitor) RecordNonceRefresh() {
	m.nonceRefreshes.Inc()
}

func (m *Monitor) RecordReconcile() {
	m.reconciles.Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
