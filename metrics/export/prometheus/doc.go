// Package prometheus exposes charityauth engine counters through
// prometheus/client_golang.
//
// [NewCollector] adapts an engine (or any [MetricsSource]) to a
// prometheus.Collector; [Handler] mounts it on a private registry. Counter
// names are prefixed charityauth_ and end in _total. The single histogram is
// charityauth_login_latency_seconds.
package prometheus
