package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按路由与状态码统计的请求数。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_http_requests_total",
		Help: "Total HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration 请求耗时分布。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookstore_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// AuthFailuresTotal 认证/授权失败次数（reason: missing / expired / invalid_signature / malformed / forbidden / invalid_credentials）。
	AuthFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_auth_failures_total",
		Help: "Rejected authentication or authorization attempts.",
	}, []string{"reason"})

	// RateLimitRejectedTotal 被限流拒绝的请求数。
	RateLimitRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_ratelimit_rejected_total",
		Help: "Requests rejected by the rate limiter.",
	}, []string{"route"})

	// ImageUploadsTotal 图片上传结果（result: success / failure）。
	ImageUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_image_uploads_total",
		Help: "Image objects uploaded to object storage.",
	}, []string{"result"})

	// MailJobsTotal 邮件任务结果（result: sent / failed / dropped）。
	MailJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_mail_jobs_total",
		Help: "Mail jobs handled by the worker pool.",
	}, []string{"result"})

	// MailQueueDepth 当前待发送的邮件数量。
	MailQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bookstore_mail_queue_depth",
		Help: "Mail jobs waiting in the queue.",
	})
)

var initOnce sync.Once

// InitMetrics 将指标注册到默认 Registry，可重复调用。
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AuthFailuresTotal,
			RateLimitRejectedTotal,
			ImageUploadsTotal,
			MailJobsTotal,
			MailQueueDepth,
		)
	})
}
