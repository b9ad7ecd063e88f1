// Package observability provides structured logging, health probes, Prometheus
// metrics, and graceful shutdown for the newcloud services.
package observability
