// Package metrics defines the Prometheus instrumentation for the voice
// relay service: session lifecycle, relay traffic, context injection and
// HTTP API metrics.
package metrics
