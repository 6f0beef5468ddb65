// Package metrics exposes engine and API counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbaliyan/mailroute"
	"github.com/rbaliyan/mailroute/store"
)

// Compile-time checks
var (
	_ mailroute.SubmitHook = (*Plugin)(nil)
	_ mailroute.PurgeHook  = (*Plugin)(nil)
)

// Plugin counts routing outcomes and purges. Each Plugin owns its
// registry, so several engines in one process do not collide.
type Plugin struct {
	registry *prometheus.Registry

	submitted *prometheus.CounterVec
	rejected  prometheus.Counter
	purged    *prometheus.CounterVec

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates the plugin and registers its collectors.
func New() *Plugin {
	p := &Plugin{
		registry: prometheus.NewRegistry(),

		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailroute_messages_submitted_total",
			Help: "Messages routed, by outcome",
		}, []string{"outcome"}),

		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailroute_messages_rejected_total",
			Help: "Messages that failed validation or a submit hook",
		}),

		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailroute_messages_purged_total",
			Help: "Messages permanently removed, by reason",
		}, []string{"reason"}),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailroute_http_requests_total",
			Help: "The total number of processed REST requests",
		}, []string{"method", "endpoint", "status"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailroute_http_response_time_milliseconds",
			Help:    "REST API response time distributions",
			Buckets: []float64{1, 10, 50, 100, 200, 300, 400, 500},
		}, []string{"method", "endpoint"}),
	}

	p.registry.MustRegister(p.submitted, p.rejected, p.purged, p.requests, p.latency)
	return p
}

// WatchStaging samples depth on every scrape as the staging buffer
// length. Call it once, after the engine exists.
func (p *Plugin) WatchStaging(depth func() int) {
	p.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mailroute_staging_buffer_entries",
		Help: "Entries waiting in the process-local staging buffer",
	}, func() float64 { return float64(depth()) }))
}

// Name implements mailroute.Plugin.
func (p *Plugin) Name() string { return "prometheus" }

// Init implements mailroute.Plugin.
func (p *Plugin) Init(context.Context) error { return nil }

// Close implements mailroute.Plugin.
func (p *Plugin) Close(context.Context) error { return nil }

// BeforeSubmit implements mailroute.SubmitHook.
func (p *Plugin) BeforeSubmit(context.Context, *store.Message) error { return nil }

// AfterSubmit implements mailroute.SubmitHook.
func (p *Plugin) AfterSubmit(_ context.Context, _ *store.Message, outcome mailroute.Outcome) error {
	p.submitted.WithLabelValues(outcome.String()).Inc()
	return nil
}

// AfterPurge implements mailroute.PurgeHook.
func (p *Plugin) AfterPurge(_ context.Context, reason string, count int64) error {
	p.purged.WithLabelValues(reason).Add(float64(count))
	return nil
}

// ObserveRejected counts a submission refused before routing.
func (p *Plugin) ObserveRejected() {
	p.rejected.Inc()
}

// Handler serves the plugin's registry in the Prometheus text format.
func (p *Plugin) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the plugin's registry.
func (p *Plugin) Registry() *prometheus.Registry {
	return p.registry
}

// Middleware counts requests and records response times per route.
func (p *Plugin) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		p.requests.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		p.latency.WithLabelValues(c.Request.Method, endpoint).
			Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
}
