package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// blobsStored counts accepted and failed writes.
	// Labels: op (push|compact), result (ok|error).
	blobsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confsync",
		Subsystem: "server",
		Name:      "blob_writes_total",
		Help:      "Blob writes handled by the server, by operation and result.",
	}, []string{"op", "result"})

	blobsServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "confsync",
		Subsystem: "server",
		Name:      "blobs_served_total",
		Help:      "Blobs returned by fetch requests.",
	})

	// requestsTotal counts requests per front end.
	// Labels: transport (http|grpc), code (HTTP status or gRPC code name).
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confsync",
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "Requests handled, by transport and response code.",
	}, []string{"transport", "code"})

	sseClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "confsync",
		Subsystem: "server",
		Name:      "sse_clients",
		Help:      "Connected event stream clients.",
	})

	sseDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "confsync",
		Subsystem: "server",
		Name:      "sse_dropped_total",
		Help:      "Events not delivered to a stream client whose buffer was full.",
	})
)
