// Package memstore is the in-memory keyed store consumed by the health
// service (set-if-not-exists with TTL for its named lock) and by queue
// counters. It is deliberately small: the server treats it as an
// external dependency that can be down, which is why Ping exists and
// why every operation can fail.
package memstore
