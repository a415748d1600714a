// Package metrics implements C13: in-process counters/gauges for queue
// depth, dispatch latency, live DAP session count, and broker pending
// counts, optionally exposed over a debug HTTP endpoint.
//
// Grounded on jinterlante1206-AleutianLocal's
// services/trace/agent/routing/metrics.go promauto idiom (package-level
// vars built with promauto.New*, namespace/subsystem/name triples,
// histogram buckets sized to the operation being measured).
package metrics

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hlasmls"

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "requestmgr",
		Name:      "queue_depth",
		Help:      "Number of parse-work items currently queued",
	})

	dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "dispatch_latency_seconds",
		Help:      "Method dispatch latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method"})

	liveDAPSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dap",
		Name:      "live_sessions",
		Help:      "Number of currently tracked DAP sessions",
	})

	brokerPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "externalfile",
		Name:      "pending_requests",
		Help:      "Number of outstanding external-file/external-configuration requests",
	}, []string{"broker"})
)

// SetQueueDepth reports the request manager's current coalescing queue
// length.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// ObserveDispatch records one method dispatch's wall-clock duration.
func ObserveDispatch(method string, seconds float64) {
	dispatchLatency.WithLabelValues(method).Observe(seconds)
}

// SetLiveDAPSessions reports the session manager's current session count.
func SetLiveDAPSessions(n int) { liveDAPSessions.Set(float64(n)) }

// SetBrokerPending reports how many requests broker currently has
// outstanding.
func SetBrokerPending(broker string, n int) { brokerPending.WithLabelValues(broker).Set(float64(n)) }

// Handler returns the promhttp handler to mount on the optional debug
// endpoint (spec.md §6's out-of-scope "telemetry backends" notwithstanding
// -- this is an ambient operability concern, not a protocol feature).
func Handler() http.Handler { return promhttp.Handler() }

// ConnectionID mints an opaque id for one debug-endpoint connection, for
// access logging -- the repurposing of google/uuid noted in SPEC_FULL.md's
// domain stack section, since Go has no stable per-connection identity to
// reuse the way a C++ thread id would be.
func ConnectionID() string { return uuid.NewString() }
