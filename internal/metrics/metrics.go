// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 生成処理の種類。
const (
	GenerationRoadmap = "roadmap"
	GenerationHeading = "heading"
	GenerationQuiz    = "quiz"
	GenerationChat    = "chat"
)

// 処理結果のラベル値。
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeParseError  = "parse_error"
	OutcomeUnavailable = "unavailable"
)

// Blob操作の種類。
const (
	BlobUpload  = "upload"
	BlobFetch   = "fetch"
	BlobDestroy = "destroy"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 生成器、コレクションストア、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordGeneration(kind, outcome string)
	RecordGenerationLatency(kind string, duration time.Duration)
	RecordHeadingRetry()
	RecordHeadingDegraded()
	RecordBlobOperation(op, outcome string)
	RecordOrphanBlob()
	RecordLockWait(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	generation        *prometheus.CounterVec
	generationLatency *prometheus.HistogramVec
	headingRetry      prometheus.Counter
	headingDegraded   prometheus.Counter
	blobOps           *prometheus.CounterVec
	orphanBlobs       prometheus.Counter
	lockWait          prometheus.Histogram
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		generation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnify_generation_total",
			Help: "生成モデル呼び出しの種類・結果別の合計数",
		}, []string{"kind", "outcome"}),
		generationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "learnify_generation_latency_seconds",
			Help:    "生成モデル呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"kind"}),
		headingRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learnify_heading_retry_total",
			Help: "見出し説明生成の再試行回数",
		}),
		headingDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learnify_heading_degraded_total",
			Help: "再試行を使い切りプレースホルダーに置き換えた見出し数",
		}),
		blobOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnify_blob_operations_total",
			Help: "Blobストア操作の種類・結果別の合計数",
		}, []string{"op", "outcome"}),
		orphanBlobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learnify_orphan_blobs_total",
			Help: "削除に失敗し再試行キューに登録したBlob数",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "learnify_user_lock_wait_seconds",
			Help:    "ユーザー単位の排他区間に入るまでの待ち時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnify_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.generation,
		c.generationLatency,
		c.headingRetry,
		c.headingDegraded,
		c.blobOps,
		c.orphanBlobs,
		c.lockWait,
		c.httpStatus,
	)

	return c
}

// RecordGeneration は生成モデル呼び出しの結果を記録する。
func (c *Collector) RecordGeneration(kind, outcome string) {
	c.generation.WithLabelValues(kind, outcome).Inc()
}

// RecordGenerationLatency は生成モデル呼び出しのレイテンシを記録する。
func (c *Collector) RecordGenerationLatency(kind string, duration time.Duration) {
	c.generationLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordHeadingRetry は見出し説明生成の再試行を記録する。
func (c *Collector) RecordHeadingRetry() {
	c.headingRetry.Inc()
}

// RecordHeadingDegraded はプレースホルダーへの置き換えを記録する。
func (c *Collector) RecordHeadingDegraded() {
	c.headingDegraded.Inc()
}

// RecordBlobOperation はBlobストア操作の結果を記録する。
func (c *Collector) RecordBlobOperation(op, outcome string) {
	c.blobOps.WithLabelValues(op, outcome).Inc()
}

// RecordOrphanBlob は孤立Blobの登録を記録する。
func (c *Collector) RecordOrphanBlob() {
	c.orphanBlobs.Inc()
}

// RecordLockWait は排他区間の待ち時間を記録する。
func (c *Collector) RecordLockWait(duration time.Duration) {
	c.lockWait.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordGeneration(string, string)               {}
func (Nop) RecordGenerationLatency(string, time.Duration) {}
func (Nop) RecordHeadingRetry()                           {}
func (Nop) RecordHeadingDegraded()                        {}
func (Nop) RecordBlobOperation(string, string)            {}
func (Nop) RecordOrphanBlob()                             {}
func (Nop) RecordLockWait(time.Duration)                  {}
func (Nop) RecordHTTPStatus(int)                          {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
