package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

var (
	SyncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_sync_cycles_total",
			Help: "Total number of poll cycles by outcome",
		},
		[]string{"status"},
	)
	SyncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poller_sync_cycle_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	OrdersSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poller_orders_sent_total",
			Help: "Total number of orders delivered to webhooks",
		},
	)
	OrdersFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poller_orders_failed_total",
			Help: "Total number of order deliveries that failed and were queued for retry",
		},
	)
	WebhookDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poller_webhook_duration_seconds",
			Help:    "Webhook POST duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
		},
	)
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poller_circuit_state",
			Help: "Circuit breaker state per connection (0=closed, 1=half_open, 2=open)",
		},
		[]string{"connection"},
	)
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poller_active_connections",
			Help: "Number of connections with a running poll loop",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of ops-server HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Ops-server HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)
)

// InitMetrics registers every collector once per process.
func InitMetrics() {
	prometheus.MustRegister(SyncCyclesTotal)
	prometheus.MustRegister(SyncCycleDuration)
	prometheus.MustRegister(OrdersSentTotal)
	prometheus.MustRegister(OrdersFailedTotal)
	prometheus.MustRegister(WebhookDuration)
	prometheus.MustRegister(CircuitState)
	prometheus.MustRegister(ActiveConnections)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// SetCircuitState exports one connection's breaker state as a gauge value.
func SetCircuitState(connection string, state domain.CircuitState) {
	v := 0.0
	switch state {
	case domain.CircuitHalfOpen:
		v = 1
	case domain.CircuitOpen:
		v = 2
	}
	CircuitState.WithLabelValues(connection).Set(v)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside the chi router; guard nil.
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
