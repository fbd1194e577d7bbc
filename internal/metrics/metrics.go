// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 診断送信の結果ラベル
const (
	SubmissionCreated   = "created"
	SubmissionDuplicate = "duplicate"
	SubmissionInvalid   = "invalid"
	SubmissionFailed    = "failed"
)

// Recorder はメトリクス記録のインターフェース。
// サービス層とミドルウェアから利用する。
type Recorder interface {
	RecordSessionCreated()
	RecordSessionDestroyed()
	RecordVerificationFailure(reason string)
	RecordSubmission(outcome string)
	RecordOracleLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsCreated      prometheus.Counter
	sessionsDestroyed    prometheus.Counter
	verificationFailures *prometheus.CounterVec
	submissions          *prometheus.CounterVec
	oracleLatency        prometheus.Histogram
	httpStatus           *prometheus.CounterVec
}

// NewCollector はCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insight_sessions_created_total",
			Help: "発行したセッションの合計数",
		}),
		sessionsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insight_sessions_destroyed_total",
			Help: "ログアウトで破棄したセッションの合計数",
		}),
		verificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_verification_failures_total",
			Help: "本人確認に失敗した回数",
		}, []string{"reason"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_assessment_submissions_total",
			Help: "診断送信の結果別の合計数",
		}, []string{"outcome"}),
		oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "insight_oracle_latency_seconds",
			Help:    "スコアリング呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionsDestroyed,
		c.verificationFailures,
		c.submissions,
		c.oracleLatency,
		c.httpStatus,
	)
	return c
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionDestroyed はセッション破棄を記録する。
func (c *Collector) RecordSessionDestroyed() {
	c.sessionsDestroyed.Inc()
}

// RecordVerificationFailure は本人確認の失敗を理由別に記録する。
func (c *Collector) RecordVerificationFailure(reason string) {
	c.verificationFailures.WithLabelValues(reason).Inc()
}

// RecordSubmission は診断送信の結果を記録する。
func (c *Collector) RecordSubmission(outcome string) {
	c.submissions.WithLabelValues(outcome).Inc()
}

// RecordOracleLatency はスコアリング呼び出しのレイテンシを記録する。
func (c *Collector) RecordOracleLatency(duration time.Duration) {
	c.oracleLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// nop は何も記録しないRecorder。
type nop struct{}

func (nop) RecordSessionCreated() {}
func (nop) RecordSessionDestroyed() {}
func (nop) RecordVerificationFailure(string) {}
func (nop) RecordSubmission(string) {}
func (nop) RecordOracleLatency(time.Duration) {}
func (nop) RecordHTTPStatus(int) {}

// Discard は記録を捨てるRecorder。メトリクス不要の構成やテストで使用する。
var Discard Recorder = nop{}

// compile-time interface check
var _ Recorder = (*Collector)(nil)
