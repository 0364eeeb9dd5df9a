package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// API 权重指标
	UsedWeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screener_api_used_weight",
			Help: "最近一次响应报告的1分钟已用权重",
		},
	)

	WeightLimit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screener_api_weight_limit",
			Help: "exchangeInfo 声明的每分钟权重上限",
		},
	)

	WeightMargin = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screener_api_weight_margin",
			Help: "自限流安全余量",
		},
	)

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screener_api_latency_seconds",
			Help:    "API请求延迟",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"endpoint", "status"},
	)

	ThrottleCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screener_throttle_total",
			Help: "因权重超限而挂起的次数",
		},
	)

	ThrottleWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "screener_throttle_wait_seconds",
			Help:    "自限流挂起时长",
			Buckets: []float64{0.1, 1, 5, 15, 30, 45, 60},
		},
	)

	// 心跳指标
	PingMillis = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screener_ping_ms",
			Help: "最近一次心跳往返耗时(ms)",
		},
	)

	ProbeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screener_probe_failures_total",
			Help: "心跳失败次数",
		},
	)

	// 刷新任务指标
	RefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screener_refresh_duration_seconds",
			Help:    "刷新任务耗时",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"kind", "result"},
	)

	RefreshProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "screener_refresh_progress",
			Help: "刷新任务已完成数量",
		},
		[]string{"kind"},
	)

	ClassifiedSymbols = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "screener_classified_symbols",
			Help: "最近一次分类结果的交易对数量",
		},
		[]string{"list"},
	)

	ErrorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_error_count_total",
			Help: "错误计数",
		},
		[]string{"type", "symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		UsedWeight,
		WeightLimit,
		WeightMargin,
		APILatency,
		ThrottleCount,
		ThrottleWait,
		PingMillis,
		ProbeFailures,
		RefreshDuration,
		RefreshProgress,
		ClassifiedSymbols,
		ErrorCount,
	)
}

// StartMetricsServer 启动Prometheus监控服务器，并返回实际监听端口
func StartMetricsServer(port int) (int, error) {
	if port < 0 {
		port = 0
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s failed: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	log.Info().Int("port", actualPort).Msg("启动Prometheus监控服务器")

	go func() {
		if err := http.Serve(listener, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Prometheus服务器异常退出")
		}
	}()

	return actualPort, nil
}

// RecordAPICall 记录一次 REST 调用
func RecordAPICall(endpoint string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = fmt.Sprintf("%d", status)
	}
	APILatency.WithLabelValues(endpoint, label).Observe(elapsed.Seconds())
}

// UpdateWeightMetrics 更新权重指标
func UpdateWeightMetrics(used, limit, margin int) {
	UsedWeight.Set(float64(used))
	WeightLimit.Set(float64(limit))
	WeightMargin.Set(float64(margin))
}

// RecordThrottle 记录一次自限流挂起
func RecordThrottle(wait time.Duration) {
	ThrottleCount.Inc()
	ThrottleWait.Observe(wait.Seconds())
}

// RecordPing 记录心跳结果
func RecordPing(elapsed time.Duration, err error) {
	if err != nil {
		ProbeFailures.Inc()
		return
	}
	PingMillis.Set(float64(elapsed.Milliseconds()))
}

// RecordRefresh 记录刷新任务结束
func RecordRefresh(kind string, ok bool, elapsed time.Duration) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	RefreshDuration.WithLabelValues(kind, result).Observe(elapsed.Seconds())
}

// UpdateRefreshProgress 更新刷新进度
func UpdateRefreshProgress(kind string, completed int) {
	RefreshProgress.WithLabelValues(kind).Set(float64(completed))
}

// UpdateClassification 记录分类结果数量
func UpdateClassification(list string, count int) {
	ClassifiedSymbols.WithLabelValues(list).Set(float64(count))
}

// RecordError 记录错误
func RecordError(errType, symbol string) {
	ErrorCount.WithLabelValues(errType, symbol).Inc()
}
