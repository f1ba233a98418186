/*
metrics.go - Prometheus instrumentation

Counters track the lifecycle events the business watches (reservations,
pickups, cancellations, no-shows); the request histogram feeds latency
dashboards. Exposed on GET /metrics.
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	ReservationsCreated prometheus.Counter
	PickupsConfirmed    prometheus.Counter
	Cancellations       prometheus.Counter
	NoShows             prometheus.Counter
	ReservationsExpired prometheus.Counter
	RequestDuration     *prometheus.HistogramVec
}

// NewMetrics registers the collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReservationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "points_engine_reservations_created_total",
			Help: "Reservations successfully created.",
		}),
		PickupsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "points_engine_pickups_confirmed_total",
			Help: "Pickups confirmed by partners.",
		}),
		Cancellations: factory.NewCounter(prometheus.CounterOpts{
			Name: "points_engine_cancellations_total",
			Help: "Reservations cancelled by customers.",
		}),
		NoShows: factory.NewCounter(prometheus.CounterOpts{
			Name: "points_engine_no_shows_total",
			Help: "No-shows reported by partners.",
		}),
		ReservationsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "points_engine_reservations_expired_total",
			Help: "Reservations expired by the background sweep.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "points_engine_request_duration_seconds",
			Help:    "HTTP request latency by method and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

// Middleware records request latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		m.RequestDuration.WithLabelValues(r.Method, statusClass(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
