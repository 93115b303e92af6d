// Package metrics exposes engine, cache, and scheduler metrics over a
// Prometheus endpoint.
package metrics
