package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reportline"

// 提交与查询结果标签
const (
	OutcomeSuccess     = "success"
	OutcomeValidation  = "validation_error"
	OutcomeTooLarge    = "too_large"
	OutcomeBusy        = "busy"
	OutcomeFailure     = "failure"
	OutcomeNotFound    = "not_found"
	OutcomeRateLimited = "rate_limited"
)

// Metrics 监控指标
//
// 标签里只出现路由模板和结果分类，不包含追踪编号或客户端地址
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 业务指标
	ReportsSubmitted *prometheus.CounterVec
	StatusLookups    *prometheus.CounterVec
	AttachmentSize   prometheus.Histogram
	UploadsInFlight  prometheus.Gauge

	// 存储指标
	StoredReports     prometheus.Gauge
	StoredAttachments prometheus.Gauge
	StorageBytes      prometheus.Gauge
	TempFilesSwept    prometheus.Counter

	// 错误指标
	ErrorsTotal     *prometheus.CounterVec
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 在独立的 registry 上创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		ReportsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_submitted_total",
				Help:      "Report submissions by outcome",
			},
			[]string{"outcome"},
		),

		StatusLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_lookups_total",
				Help:      "Status lookups by outcome",
			},
			[]string{"outcome"},
		),

		AttachmentSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attachment_size_bytes",
				Help:      "Size of accepted attachments in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),

		UploadsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uploads_in_flight",
				Help:      "Number of multipart uploads being processed",
			},
		),

		StoredReports: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stored_reports",
				Help:      "Number of report records on the filesystem backend",
			},
		),

		StoredAttachments: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stored_attachments",
				Help:      "Number of attachment objects on the filesystem backend",
			},
		),

		StorageBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "storage_bytes",
				Help:      "Bytes used by ciphertext objects on the filesystem backend",
			},
		),

		TempFilesSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "temp_files_swept_total",
				Help:      "Stale temporary files removed by the cleanup loop",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_blocks_total",
				Help:      "Requests rejected by rate limiting",
			},
			[]string{"limit"},
		),
	}
}

// Registry 返回指标所在的 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标，endpoint 必须是路由模板
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordSubmission 记录一次提交结果
func (m *Metrics) RecordSubmission(outcome string) {
	m.ReportsSubmitted.WithLabelValues(outcome).Inc()
}

// RecordStatusLookup 记录一次状态查询结果
func (m *Metrics) RecordStatusLookup(outcome string) {
	m.StatusLookups.WithLabelValues(outcome).Inc()
}

// RecordAttachmentSize 记录附件大小
func (m *Metrics) RecordAttachmentSize(size int64) {
	m.AttachmentSize.Observe(float64(size))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(limit string) {
	m.RateLimitBlocks.WithLabelValues(limit).Inc()
}

// RecordTempFilesSwept 记录清理的临时文件数量
func (m *Metrics) RecordTempFilesSwept(count int) {
	m.TempFilesSwept.Add(float64(count))
}

// UpdateStorage 更新存储用量
func (m *Metrics) UpdateStorage(reports, attachments int, bytes int64) {
	m.StoredReports.Set(float64(reports))
	m.StoredAttachments.Set(float64(attachments))
	m.StorageBytes.Set(float64(bytes))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
