// Package metrics exports Prometheus collectors for tandem. The gateway
// serves them on metrics.path when metrics.enabled is set.
package metrics
