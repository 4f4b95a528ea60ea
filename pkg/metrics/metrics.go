// Package metrics 维护网关的运行指标。
// Prometheus指标用于外部抓取，进程内统计用于适配器的性能统计查询。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_received_total",
			Help: "Total inbound messages by protocol and message name.",
		},
		[]string{"protocol", "message"},
	)

	parseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_parse_errors_total",
			Help: "Total parse failures by protocol.",
		},
		[]string{"protocol"},
	)

	checksumErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_checksum_errors_total",
			Help: "Total checksum mismatches by protocol.",
		},
		[]string{"protocol"},
	)

	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_dispatches_total",
			Help: "Total business dispatches by protocol, business type, and outcome.",
		},
		[]string{"protocol", "business_type", "outcome"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_dispatch_duration_seconds",
			Help:    "Business dispatch latency by protocol.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	onlineDevices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_online_devices",
			Help: "Currently online devices by protocol.",
		},
		[]string{"protocol"},
	)
)

func init() {
	prometheus.MustRegister(
		messagesReceived,
		parseErrors,
		checksumErrors,
		dispatches,
		dispatchDuration,
		onlineDevices,
	)
}

// Handler 返回Prometheus抓取端点的HTTP处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncMessageReceived 记录一条入站消息
func IncMessageReceived(protocolType, messageName string) {
	messagesReceived.WithLabelValues(protocolType, messageName).Inc()
	recordMessage(protocolType)
}

// IncParseError 记录一次解析失败
func IncParseError(protocolType string) {
	parseErrors.WithLabelValues(protocolType).Inc()
	recordParseError(protocolType)
}

// IncChecksumError 记录一次校验失败
func IncChecksumError(protocolType string) {
	checksumErrors.WithLabelValues(protocolType).Inc()
}

// IncDispatch 记录一次业务分发结果，outcome为success/failure/timeout/cancelled
func IncDispatch(protocolType, businessType, outcome string) {
	dispatches.WithLabelValues(protocolType, businessType, outcome).Inc()
	recordDispatch(protocolType, outcome)
}

// ObserveDispatchDuration 记录业务分发耗时
func ObserveDispatchDuration(protocolType string, seconds float64) {
	dispatchDuration.WithLabelValues(protocolType).Observe(seconds)
}

// SetOnlineDevices 更新在线设备数
func SetOnlineDevices(protocolType string, count int) {
	onlineDevices.WithLabelValues(protocolType).Set(float64(count))
}
