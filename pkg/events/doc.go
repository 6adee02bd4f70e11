// Package events is the in-process event bus at the service boundary.
// Services publish lifecycle events (task.preempted, hash.cracked,
// agent.offline, ...) and the transport layer decides how to deliver
// them; delivery is non-blocking and lossy for slow subscribers.
package events
