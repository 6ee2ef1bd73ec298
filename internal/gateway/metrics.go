package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// メトリクスのroute ラベルの値。
const (
	routeProxy   = "proxy"
	routeRefresh = "refresh"
	routeLogout  = "logout"
	routeMe      = "me"
	routeOAuth   = "oauth"
)

// 現在のユーザー取得で行った回復処理の結果。
const (
	recoveryRecovered     = "recovered"
	recoveryRefreshFailed = "refresh_failed"
	recoveryRetryFailed   = "retry_failed"
)

// metrics はGatewayのPrometheusメトリクス。
// テストで複数のサーバーを並行して作れるよう、サーバーごとにレジストリを持つ。
type metrics struct {
	// registry はこのサーバーのコレクターを登録するレジストリ。
	registry *prometheus.Registry
	// proxied はクライアントへ返したレスポンス数。
	proxied *prometheus.CounterVec
	// recoveries は現在のユーザー取得で行った回復処理の回数。
	recoveries *prometheus.CounterVec
	// backendDuration はバックエンド呼び出しの所要時間。
	backendDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		proxied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessiongate",
				Subsystem: "gateway",
				Name:      "proxied_requests_total",
				Help:      "Total number of responses returned to clients.",
			},
			[]string{"route", "status"},
		),
		recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessiongate",
				Subsystem: "gateway",
				Name:      "session_recoveries_total",
				Help:      "Total number of refresh-and-retry attempts on the current user endpoint.",
			},
			[]string{"outcome"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sessiongate",
				Subsystem: "gateway",
				Name:      "backend_duration_seconds",
				Help:      "Duration of backend calls.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"route"},
		),
	}
	m.registry.MustRegister(
		m.proxied,
		m.recoveries,
		m.backendDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// handler は登録済みメトリクスを公開するHTTPハンドラを返す。
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeResponse(route string, status int) {
	m.proxied.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *metrics) observeBackend(route string, d time.Duration) {
	m.backendDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *metrics) observeRecovery(outcome string) {
	m.recoveries.WithLabelValues(outcome).Inc()
}
