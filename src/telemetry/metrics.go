// Package telemetry exposes the Prometheus metrics of agents, the launcher
// and the HTTP control surface.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "acol"

var (
	Registry = prometheus.NewRegistry()

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Number of completed Train-Send-Receive cycles.",
		},
		[]string{"agent"},
	)

	TrainErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_errors_total",
			Help:      "Number of failed training steps.",
		},
		[]string{"agent"},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Number of payloads sent, by encoding.",
		},
		[]string{"agent", "kind"},
	)

	FragmentsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_sent_total",
			Help:      "Number of multipart fragments sent.",
		},
		[]string{"agent"},
	)

	SendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Number of failed sends.",
		},
		[]string{"agent"},
	)

	SendSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_skipped_total",
			Help:      "Number of cycles without any reachable neighbour to send to.",
		},
		[]string{"agent"},
	)

	PayloadsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_received_total",
			Help:      "Number of complete payloads received.",
		},
		[]string{"agent"},
	)

	ReceiveTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_timeouts_total",
			Help:      "Number of Receive states that ended without a payload.",
		},
		[]string{"agent"},
	)

	ReassemblyAbandoned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reassembly_abandoned_total",
			Help:      "Number of reassembly buffers purged before completion.",
		},
		[]string{"agent"},
	)

	MalformedFragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_fragments_total",
			Help:      "Number of fragments dropped because of a malformed header.",
		},
		[]string{"agent"},
	)

	ReachableNeighbours = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reachable_neighbours",
			Help:      "Number of reachable neighbours in the last view.",
		},
		[]string{"agent"},
	)

	ViewChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_changes_total",
			Help:      "Number of changes of the reachable neighbour set.",
		},
		[]string{"agent"},
	)

	AgentsAlive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_alive",
			Help:      "Number of launched agents that have not stopped.",
		},
	)

	AgentLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_launches_total",
			Help:      "Number of agent launches, by outcome.",
		},
		[]string{"outcome"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		CyclesTotal,
		TrainErrors,
		MessagesSent,
		FragmentsSent,
		SendErrors,
		SendSkipped,
		PayloadsReceived,
		ReceiveTimeouts,
		ReassemblyAbandoned,
		MalformedFragments,
		ReachableNeighbours,
		ViewChanges,
		AgentsAlive,
		AgentLaunches,
		RequestsTotal,
		RequestDuration,
		buildInfo,
		uptime,
	)
}

// MetricsHandler exposes /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op"
// label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
