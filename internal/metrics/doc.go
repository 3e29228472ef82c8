// Package metrics provides Prometheus metrics for monitoring sinkcast.
package metrics
