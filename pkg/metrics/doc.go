// Package metrics exposes the server's Prometheus instrumentation:
// fleet gauges (agents, tasks, campaigns), cracking and scheduling
// counters, and the assignment latency histogram. Handler serves the
// /metrics endpoint.
package metrics
