// Package metrics holds the process-wide Prometheus collectors every
// chain and transform reports into, registered against the default
// registry and exposed by cmd/protorelay via promhttp.Handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TeeDroppedMessages counts requests a Tee transform could not
	// reconcile against its side chain (submit failure, timeout,
	// backpressure), labeled by the Tee's configured name.
	TeeDroppedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "protorelay",
		Name:      "tee_dropped_messages_total",
		Help:      "Requests dropped by a Tee transform's side chain submission.",
	}, []string{"chain"})

	// ChainFailures counts requests a chain failed to process end to
	// end, labeled by chain name.
	ChainFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "protorelay",
		Name:      "chain_failures_total",
		Help:      "Requests that failed while travelling through a chain.",
	}, []string{"chain"})

	// ChainMessages counts messages a chain processed, labeled by
	// chain name and direction (request/response).
	ChainMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "protorelay",
		Name:      "chain_messages_total",
		Help:      "Messages processed by a chain, by direction.",
	}, []string{"chain", "direction"})
)

func init() {
	prometheus.MustRegister(TeeDroppedMessages, ChainFailures, ChainMessages)
}
