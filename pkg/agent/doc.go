// Package agent manages worker lifecycle: registration, benchmark
// intake (which activates a pending agent), heartbeat monitoring,
// voluntary shutdown and error reporting. A silent agent is marked
// offline and its running tasks are paused for reclamation.
package agent
