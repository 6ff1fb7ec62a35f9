// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// ハンドラー、ミドルウェア、ワーカーから利用する。
type Recorder interface {
	RecordLogin(provider, result string)
	RecordRefresh(result string)
	RecordAuthRejection(reason string)
	RecordUpload(sizeBytes int64)
	RecordObjectPurge(result string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	authRejections *prometheus.CounterVec
	uploads        prometheus.Counter
	uploadBytes    prometheus.Counter
	objectPurges   *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobox_logins_total",
			Help: "IdPコールバックによるログイン試行数",
		}, []string{"provider", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobox_token_refresh_total",
			Help: "トークンリフレッシュ試行数",
		}, []string{"result"}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobox_auth_rejections_total",
			Help: "認証ゲートで拒否されたリクエスト数",
		}, []string{"reason"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiobox_uploads_total",
			Help: "アップロードされた音声ファイル数",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiobox_upload_bytes_total",
			Help: "アップロードされた音声ファイルの合計バイト数",
		}),
		objectPurges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobox_object_purges_total",
			Help: "削除待ちキューから処理したオブジェクト数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobox_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiobox_request_latency_seconds",
			Help:    "リクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.refreshes,
		c.authRejections,
		c.uploads,
		c.uploadBytes,
		c.objectPurges,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLogin はログイン結果（success, provider_error, failed）を記録する。
func (c *Collector) RecordLogin(provider, result string) {
	c.logins.WithLabelValues(provider, result).Inc()
}

// RecordRefresh はリフレッシュ結果を記録する。
func (c *Collector) RecordRefresh(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

// RecordAuthRejection は認証ゲートでの拒否理由を記録する。
func (c *Collector) RecordAuthRejection(reason string) {
	c.authRejections.WithLabelValues(reason).Inc()
}

// RecordUpload はアップロード件数とサイズを記録する。
func (c *Collector) RecordUpload(sizeBytes int64) {
	c.uploads.Inc()
	c.uploadBytes.Add(float64(sizeBytes))
}

// RecordObjectPurge はオブジェクト削除の結果（deleted, failed）を記録する。
func (c *Collector) RecordObjectPurge(result string) {
	c.objectPurges.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないRecorder。メトリクスを使わない構成やテストで使う。
type Nop struct{}

func (Nop) RecordLogin(string, string)          {}
func (Nop) RecordRefresh(string)                {}
func (Nop) RecordAuthRejection(string)          {}
func (Nop) RecordUpload(int64)                  {}
func (Nop) RecordObjectPurge(string)            {}
func (Nop) RecordHTTPStatus(int)                {}
func (Nop) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
