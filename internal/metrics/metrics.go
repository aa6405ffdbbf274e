// Package metrics exposes the client's Prometheus instrumentation: a
// counter of proxy requests by object/operation/status, a histogram of
// stdio round-trip latency, and a gauge of observed instances/resources.
//
// Follows the prometheus/client_golang usage pattern already established
// in internal/coap/conn.go's messagesSent/messagesReceived counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProxyRequests counts every objectproxy operation by object id,
	// command, and resulting CoAP status code.
	ProxyRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lwm2mclient",
		Name:      "proxy_requests_total",
		Help:      "Generic object proxy requests by object, command, and status.",
	}, []string{"object_id", "command", "status"})

	// StdioRoundTrip records how long a StdioChannel.Exchange call took,
	// from send to either a matching reply or the 1.5s timeout.
	StdioRoundTrip = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lwm2mclient",
		Name:      "stdio_roundtrip_seconds",
		Help:      "Controller stdio request/response latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// ObservedResources tracks how many instance/resource observations are
	// currently registered with the Device Management server.
	ObservedResources = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lwm2mclient",
		Name:      "observed_resources",
		Help:      "Number of instance/resource Observe registrations currently active.",
	})
)

func init() {
	prometheus.MustRegister(ProxyRequests, StdioRoundTrip, ObservedResources)
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks until the
// server stops, so callers run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
