// Package metrics defines the Prometheus metrics for capture, chunking,
// transport and the local HTTP API. Metrics live on a private registry so
// several instances can coexist in one process.
package metrics
