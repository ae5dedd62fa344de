package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标。包加载时注册到默认 Registry。
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventtive_http_requests_total",
		Help: "Total HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})

	CampaignDispatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventtive_campaign_dispatch_total",
		Help: "Newsletter campaigns dispatched.",
	})
	CampaignSendTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventtive_campaign_send_total",
		Help: "Newsletter emails sent successfully.",
	})
	CampaignSendFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventtive_campaign_send_failed_total",
		Help: "Newsletter emails that failed to send.",
	})

	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventtive_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a send token.",
		Buckets: prometheus.DefBuckets,
	})
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventtive_ratelimit_timeout_total",
		Help: "Rate limit waits aborted by context cancellation.",
	})

	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventtive_worker_pool_size",
		Help: "Configured newsletter dispatch worker pool size.",
	})
)

// InitMetrics 记录投递 Worker Pool 大小，便于在面板上对照队列积压。
func InitMetrics(poolSize int) {
	WorkerPoolSize.Set(float64(poolSize))
}
