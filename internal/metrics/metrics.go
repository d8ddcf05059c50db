// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証操作の結果ラベル
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthOutcome(operation, outcome string)
	RecordProviderLatency(operation string, duration time.Duration)
	RecordDirectorySyncFailure(operation string)
	RecordHTTPStatus(statusCode int)
	RecordJobHealed()
	RecordJobParked()
	SetPendingJobs(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authOutcome     *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	directoryFail   *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	jobsHealed      prometheus.Counter
	jobsParked      prometheus.Counter
	jobsPending     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libmember_auth_requests_total",
			Help: "認証操作の結果別の合計数",
		}, []string{"operation", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "libmember_provider_latency_seconds",
			Help:    "IdP呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		directoryFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libmember_directory_sync_failures_total",
			Help: "ディレクトリレコード書き込み失敗の合計数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libmember_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		jobsHealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libmember_sync_jobs_healed_total",
			Help: "同期ジョブで修復されたディレクトリレコードの合計数",
		}),
		jobsParked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libmember_sync_jobs_parked_total",
			Help: "最大試行回数に達して停止した同期ジョブの合計数",
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "libmember_sync_jobs_pending",
			Help: "未処理の同期ジョブ数",
		}),
	}

	reg.MustRegister(
		c.authOutcome,
		c.providerLatency,
		c.directoryFail,
		c.httpStatus,
		c.jobsHealed,
		c.jobsParked,
		c.jobsPending,
	)

	return c
}

// RecordAuthOutcome は認証操作の結果を記録する。
func (c *Collector) RecordAuthOutcome(operation, outcome string) {
	c.authOutcome.WithLabelValues(operation, outcome).Inc()
}

// RecordProviderLatency はIdP呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDirectorySyncFailure はディレクトリレコード書き込み失敗を記録する。
func (c *Collector) RecordDirectorySyncFailure(operation string) {
	c.directoryFail.WithLabelValues(operation).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordJobHealed は同期ジョブによる修復を記録する。
func (c *Collector) RecordJobHealed() {
	c.jobsHealed.Inc()
}

// RecordJobParked は同期ジョブの停止を記録する。
func (c *Collector) RecordJobParked() {
	c.jobsParked.Inc()
}

// SetPendingJobs は未処理の同期ジョブ数を設定する。
func (c *Collector) SetPendingJobs(count int) {
	c.jobsPending.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerプロセスが単独でメトリクスを公開する場合に使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
