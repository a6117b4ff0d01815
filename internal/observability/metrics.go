package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API and dispatch flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	alertsDispatched     *prometheus.CounterVec
	fanoutAudienceSize   *prometheus.HistogramVec
	deliveriesSentTotal  *prometheus.CounterVec
	deliveriesFailed     *prometheus.CounterVec
	deliveryDuration     *prometheus.HistogramVec
	dispatchInflight     *prometheus.GaugeVec
	retryScheduledTotal  *prometheus.CounterVec
	endpointsDeactivated *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "runner_alerts",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "runner_alerts",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		alertsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "runner_alerts",
				Name:      "alerts_dispatched_total",
				Help:      "Total number of alert events accepted for fanout by category.",
			},
			[]string{"category"},
		),
		fanoutAudienceSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "runner_alerts",
				Name:      "fanout_audience_size",
				Help:      "Resolved audience size per dispatched alert grouped by category.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"category"},
		),
		deliveriesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "runner_alerts",
				Name:      "deliveries_sent_total",
				Help:      "Total number of deliveries accepted by a provider.",
			},
			[]string{"channel"},
		),
		deliveriesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "runner_alerts",
				Name:      "deliveries_failed_total",
				Help:      "Total number of deliveries that ended in failed state.",
			},
			[]string{"channel", "reason"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "runner_alerts",
				Name:      "delivery_duration_seconds",
				Help:      "Provider delivery duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "runner_alerts",
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight delivery attempts grouped by channel.",
			},
			[]string{"channel"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "runner_alerts",
				Name:      "retry_scheduled_total",
				Help:      "Total number of deliveries scheduled for retry.",
			},
			[]string{"channel"},
		),
		endpointsDeactivated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "runner_alerts",
				Name:      "endpoints_deactivated_total",
				Help:      "Total number of endpoints deactivated after permanent provider rejections.",
			},
			[]string{"channel"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.alertsDispatched,
		m.fanoutAudienceSize,
		m.deliveriesSentTotal,
		m.deliveriesFailed,
		m.deliveryDuration,
		m.dispatchInflight,
		m.retryScheduledTotal,
		m.endpointsDeactivated,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncAlertDispatched(category string) {
	if m == nil {
		return
	}
	m.alertsDispatched.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) ObserveFanoutAudienceSize(category string, size int) {
	if m == nil {
		return
	}
	if size < 0 {
		size = 0
	}
	m.fanoutAudienceSize.WithLabelValues(normalizeLabel(category)).Observe(float64(size))
}

func (m *Metrics) IncDeliverySent(channel string) {
	if m == nil {
		return
	}
	m.deliveriesSentTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncDeliveryFailed(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.deliveriesFailed.WithLabelValues(normalizeLabel(channel), reasonLabel).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) DecDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(channel)).Dec()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncEndpointDeactivated(channel string) {
	if m == nil {
		return
	}
	m.endpointsDeactivated.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
