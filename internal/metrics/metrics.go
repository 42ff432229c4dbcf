// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeSuperseded = "superseded"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションマネージャー、RPCバインディング、ポーラーから利用する。
type MetricsCollector interface {
	RecordRPCCall(method, code string, latency time.Duration)
	RecordStaleResponse(method string)
	RecordLogin(outcome string)
	RecordLogoutRemoteFailure()
	RecordTrustDegraded()
	SetBindingGeneration(generation uint64)
	RecordRefresh(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	rpcCalls           *prometheus.CounterVec
	rpcLatency         *prometheus.HistogramVec
	staleResponses     *prometheus.CounterVec
	logins             *prometheus.CounterVec
	logoutRemoteFailed prometheus.Counter
	trustDegraded      prometheus.Counter
	bindingGeneration  prometheus.Gauge
	refreshes          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coestate_rpc_calls_total",
			Help: "バックエンド呼び出しの合計数（メソッド・gRPCコード別）",
		}, []string{"method", "code"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coestate_rpc_latency_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		staleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coestate_stale_responses_total",
			Help: "世代が古いため破棄した応答の合計数",
		}, []string{"method"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coestate_login_total",
			Help: "ログイン試行の合計数（結果別）",
		}, []string{"outcome"}),
		logoutRemoteFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coestate_logout_remote_failures_total",
			Help: "IDプロバイダー側のログアウト失敗の合計数",
		}),
		trustDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coestate_trust_degraded_total",
			Help: "ルート鍵取得に失敗し信頼度低下モードで構築したバインディング数",
		}),
		bindingGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coestate_binding_generation",
			Help: "現在のバインディングのセッション世代",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coestate_refresh_total",
			Help: "ダッシュボード定期更新の合計数（結果別）",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.rpcCalls,
		c.rpcLatency,
		c.staleResponses,
		c.logins,
		c.logoutRemoteFailed,
		c.trustDegraded,
		c.bindingGeneration,
		c.refreshes,
	)

	return c
}

// RecordRPCCall は呼び出し結果とレイテンシを記録する。
func (c *Collector) RecordRPCCall(method, code string, latency time.Duration) {
	c.rpcCalls.WithLabelValues(method, code).Inc()
	c.rpcLatency.WithLabelValues(method).Observe(latency.Seconds())
}

// RecordStaleResponse は破棄した応答を記録する。
func (c *Collector) RecordStaleResponse(method string) {
	c.staleResponses.WithLabelValues(method).Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordLogoutRemoteFailure はリモートログアウトの失敗を記録する。
func (c *Collector) RecordLogoutRemoteFailure() {
	c.logoutRemoteFailed.Inc()
}

// RecordTrustDegraded は信頼度低下モードのバインディング構築を記録する。
func (c *Collector) RecordTrustDegraded() {
	c.trustDegraded.Inc()
}

// SetBindingGeneration は現在のセッション世代を設定する。
func (c *Collector) SetBindingGeneration(generation uint64) {
	c.bindingGeneration.Set(float64(generation))
}

// RecordRefresh は定期更新の結果を記録する。
func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordRPCCall(string, string, time.Duration) {}
func (Nop) RecordStaleResponse(string)                  {}
func (Nop) RecordLogin(string)                          {}
func (Nop) RecordLogoutRemoteFailure()                  {}
func (Nop) RecordTrustDegraded()                        {}
func (Nop) SetBindingGeneration(uint64)                 {}
func (Nop) RecordRefresh(string)                        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するchiルーターを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", Handler(gatherer))
	return r
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
