package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "messages_sent_total",
			Help:      "Protocol messages sent, by type.",
		},
		[]string{"type"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "messages_received_total",
			Help:      "Protocol messages received, by type.",
		},
		[]string{"type"},
	)

	SendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "send_failures_total",
			Help:      "Datagrams that could not be encoded or sent.",
		},
	)

	CapacityExceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "capacity_exceeded_total",
			Help:      "Inserts dropped because a bounded table was full.",
		},
		[]string{"table"},
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "member_transitions_total",
			Help:      "Member status transitions applied locally, by new status.",
		},
		[]string{"status"},
	)

	Refutations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "refutations_total",
			Help:      "Times this node refuted a suspicion about itself.",
		},
	)

	Members = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swim",
			Name:      "members",
			Help:      "Known members, by status.",
		},
		[]string{"status"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swim",
			Name:      "in_flight",
			Help:      "Tracked pings and ping-requests.",
		},
		[]string{"kind"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "swim",
			Name:      "tick_duration_seconds",
			Help:      "Time spent holding the protocol lock per failure-detection tick.",
			// 10us .. ~40ms
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 13),
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "swim",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesSent, MessagesReceived, SendFailures, CapacityExceeded,
		Transitions, Refutations, Members, InFlight, TickDuration, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveSince records the time elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
