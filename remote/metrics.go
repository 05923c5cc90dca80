package remote

import (
	"time"

	"github.com/docker/go-metrics"
)

// remoteNamespace is this server's metrics namespace, registered once at
// package init so the process-wide prometheus handler picks it up.
// Modeled on the teacher's metrics.NewNamespace/metrics.Register pairing
// (metrics/prometheus.go, registry/proxy/proxymetrics.go), generalized
// from "registry" to "hangar".
var remoteNamespace = metrics.NewNamespace("hangar", "remote", nil)

var (
	requestsTotal = remoteNamespace.NewLabeledCounter("requests_total", "The number of remote RPC requests received", "operation")
	requestErrors = remoteNamespace.NewLabeledCounter("request_errors_total", "The number of remote RPC requests that returned an error", "operation")
	requestTimer  = remoteNamespace.NewLabeledTimer("request_duration_seconds", "RPC request latency", "operation")
	pushedBytes   = remoteNamespace.NewLabeledCounter("pushed_bytes_total", "Bytes accepted by PushData", "operation")
)

func init() {
	metrics.Register(remoteNamespace)
}

// observe records one RPC's outcome and latency under operation's label.
func observe(operation string, start time.Time, err error) {
	requestsTotal.WithValues(operation).Inc()
	requestTimer.WithValues(operation).UpdateSince(start)
	if err != nil {
		requestErrors.WithValues(operation).Inc()
	}
}

// observePushedBytes adds n to the accepted-bytes counter for operation.
func observePushedBytes(operation string, n int) {
	pushedBytes.WithValues(operation).Add(float64(n))
}
