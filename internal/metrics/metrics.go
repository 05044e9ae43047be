package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/privatechat-app/privatechat-server/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// view pipeline metrics
	viewsTotal        prometheus.Counter
	viewFailuresTotal *prometheus.CounterVec
	viewStageDuration *prometheus.HistogramVec
	signedURLsTotal   prometheus.Counter
	watermarkDuration prometheus.Histogram

	// auth and session metrics
	authFailuresTotal   *prometheus.CounterVec
	sessionsIssuedTotal *prometheus.CounterVec

	// chat metrics
	chatMessagesTotal *prometheus.CounterVec
	wsConnections     prometheus.Gauge

	notifyFailuresTotal prometheus.Counter
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		viewsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_views_total",
			Help: "Total view requests that reached Ready",
		}),
		viewFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_view_failures_total",
			Help: "View pipeline failures by stage and error kind",
		}, []string{"stage", "kind"}),
		viewStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "content_view_stage_duration_seconds",
			Help:    "Time spent per view pipeline stage",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		signedURLsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signed_urls_issued_total",
			Help: "Total presigned media URLs issued",
		}),
		watermarkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watermark_duration_seconds",
			Help:    "Time for the generative service to produce a watermarked artifact",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		authFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Authentication failures by reason",
		}, []string{"reason"}),
		sessionsIssuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_issued_total",
			Help: "Session cookies issued by role",
		}, []string{"role"}),
		chatMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages accepted by sender role",
		}, []string{"sender_role"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_websocket_connections",
			Help: "Current number of open chat websocket connections",
		}),
		notifyFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_failures_total",
			Help: "Total failed admin notification deliveries",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.errorsTotal,
		m.profilingActive,
		m.viewsTotal,
		m.viewFailuresTotal,
		m.viewStageDuration,
		m.signedURLsTotal,
		m.watermarkDuration,
		m.authFailuresTotal,
		m.sessionsIssuedTotal,
		m.chatMessagesTotal,
		m.wsConnections,
		m.notifyFailuresTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncViewCompleted() {
	m.viewsTotal.Inc()
}

func (m *ServerMetrics) IncViewFailure(stage, kind string) {
	m.viewFailuresTotal.WithLabelValues(stage, kind).Inc()
}

func (m *ServerMetrics) ObserveViewStage(stage string, seconds float64) {
	m.viewStageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *ServerMetrics) IncSignedURLIssued() {
	m.signedURLsTotal.Inc()
}

func (m *ServerMetrics) ObserveWatermarkDuration(seconds float64) {
	m.watermarkDuration.Observe(seconds)
}

func (m *ServerMetrics) IncAuthFailure(reason string) {
	m.authFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) IncSessionIssued(role string) {
	m.sessionsIssuedTotal.WithLabelValues(role).Inc()
}

func (m *ServerMetrics) IncChatMessage(senderRole string) {
	m.chatMessagesTotal.WithLabelValues(senderRole).Inc()
}

func (m *ServerMetrics) IncWSConnections() {
	m.wsConnections.Inc()
}

func (m *ServerMetrics) DecWSConnections() {
	m.wsConnections.Dec()
}

func (m *ServerMetrics) IncNotifyFailure() {
	m.notifyFailuresTotal.Inc()
}
