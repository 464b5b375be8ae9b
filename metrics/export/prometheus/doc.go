// Package prometheus renders engine metrics in the Prometheus text
// exposition format. Mount [Exporter.Handler] on /metrics; nothing is
// registered in a global registry.
//
// Counters are named tokutei_*_total and the backend latency histogram is
// tokutei_backend_latency_seconds. When the source can report how many
// client stores are live, a tokutei_active_stores gauge is added.
package prometheus
