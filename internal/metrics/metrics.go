package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pull channel
	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoywatch_backend_requests_total",
		Help: "Backend REST requests by operation and outcome",
	}, []string{"operation", "outcome"})

	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "decoywatch_backend_request_duration_seconds",
		Help:    "Backend REST request duration",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation"})

	FetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoywatch_fetch_retries_total",
		Help: "Retried read attempts by operation",
	}, []string{"operation"})

	FetchExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoywatch_fetch_exhausted_total",
		Help: "Reads that failed every attempt",
	}, []string{"operation"})

	// Push channel
	LinkTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoywatch_link_transitions_total",
		Help: "Live link state transitions by target state",
	}, []string{"state"})

	LinkMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoywatch_link_messages_total",
		Help: "Live link inbound messages by result",
	}, []string{"result"})

	// Window and fan-out
	WindowSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decoywatch_event_window_size",
		Help: "Current number of events held in the window",
	})

	WindowEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoywatch_event_window_evictions_total",
		Help: "Events evicted from the back of the window by live pushes",
	})

	StatsStale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decoywatch_stats_stale",
		Help: "1 when the last stats refresh failed",
	})

	HubNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoywatch_hub_notifications_total",
		Help: "Coalesced notifications dispatched to subscribers",
	})

	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decoywatch_hub_subscribers",
		Help: "Registered subscribers",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
