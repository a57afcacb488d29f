// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッション管理と送信キャンペーンから利用する。
type MetricsCollector interface {
	RecordMessageSent()
	RecordMessageFailed()
	RecordSendLatency(duration time.Duration)
	RecordCampaign(trigger string)
	RecordSessionTransition(state string)
	SetActiveSessions(n int)
}

// キャンペーンの起動元ラベル。
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	messagesSent      prometheus.Counter
	messagesFailed    prometheus.Counter
	sendLatency       prometheus.Histogram
	campaigns         *prometheus.CounterVec
	sessionTransition *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feereminder_messages_sent_total",
			Help: "送信に成功したリマインダーの合計数",
		}),
		messagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feereminder_messages_failed_total",
			Help: "送信に失敗したリマインダーの合計数",
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feereminder_send_latency_seconds",
			Help:    "1通あたりの送信レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		campaigns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feereminder_campaigns_total",
			Help: "起動元別の送信キャンペーン実行数",
		}, []string{"trigger"}),
		sessionTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feereminder_session_transitions_total",
			Help: "遷移先状態別のセッション状態遷移数",
		}, []string{"state"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feereminder_active_sessions",
			Help: "レジストリに登録されているセッション数",
		}),
	}

	reg.MustRegister(
		c.messagesSent,
		c.messagesFailed,
		c.sendLatency,
		c.campaigns,
		c.sessionTransition,
		c.activeSessions,
	)

	return c
}

// RecordMessageSent は送信成功を記録する。
func (c *Collector) RecordMessageSent() {
	c.messagesSent.Inc()
}

// RecordMessageFailed は送信失敗を記録する。
func (c *Collector) RecordMessageFailed() {
	c.messagesFailed.Inc()
}

// RecordSendLatency は1通の送信にかかった時間を記録する。
func (c *Collector) RecordSendLatency(duration time.Duration) {
	c.sendLatency.Observe(duration.Seconds())
}

// RecordCampaign はキャンペーンの実行を起動元ラベル付きで記録する。
func (c *Collector) RecordCampaign(trigger string) {
	c.campaigns.WithLabelValues(trigger).Inc()
}

// RecordSessionTransition はセッションの状態遷移を遷移先ラベル付きで記録する。
func (c *Collector) RecordSessionTransition(state string) {
	c.sessionTransition.WithLabelValues(state).Inc()
}

// SetActiveSessions は現在のセッション数を設定する。
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わないテストや構成で使用する。
type Nop struct{}

func (Nop) RecordMessageSent() {}
func (Nop) RecordMessageFailed() {}
func (Nop) RecordSendLatency(time.Duration) {}
func (Nop) RecordCampaign(string) {}
func (Nop) RecordSessionTransition(string) {}
func (Nop) SetActiveSessions(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
