// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordLogin(success bool)
	RecordSignup(success bool)
	RecordDuplicateSignup()
	RecordProviderError()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordSignedURLIssued(kind string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginAttempts    *prometheus.CounterVec
	signupAttempts   *prometheus.CounterVec
	duplicateSignups prometheus.Counter
	providerErrors   prometheus.Counter
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	signedURLs       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfgate_login_attempts_total",
			Help: "ログイン試行の結果別合計数",
		}, []string{"outcome"}),
		signupAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfgate_signup_attempts_total",
			Help: "サインアップ試行の結果別合計数",
		}, []string{"outcome"}),
		duplicateSignups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdfgate_duplicate_signups_total",
			Help: "重複メールアドレスで拒否したサインアップの合計数",
		}),
		providerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdfgate_provider_errors_total",
			Help: "IDプロバイダー呼び出し失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pdfgate_request_latency_seconds",
			Help:    "リクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		signedURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfgate_signed_urls_issued_total",
			Help: "発行した署名付きURLの種類別合計数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.loginAttempts,
		c.signupAttempts,
		c.duplicateSignups,
		c.providerErrors,
		c.httpStatus,
		c.requestLatency,
		c.signedURLs,
	)

	return c
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(success bool) {
	c.loginAttempts.WithLabelValues(outcomeLabel(success)).Inc()
}

// RecordSignup はサインアップ試行の結果を記録する。
func (c *Collector) RecordSignup(success bool) {
	c.signupAttempts.WithLabelValues(outcomeLabel(success)).Inc()
}

// RecordDuplicateSignup は重複メールアドレスによる拒否を記録する。
func (c *Collector) RecordDuplicateSignup() {
	c.duplicateSignups.Inc()
}

// RecordProviderError はIDプロバイダー呼び出しの失敗を記録する。
func (c *Collector) RecordProviderError() {
	c.providerErrors.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordSignedURLIssued は署名付きURLの発行を記録する。kindは"get"または"put"。
func (c *Collector) RecordSignedURLIssued(kind string) {
	c.signedURLs.WithLabelValues(kind).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
