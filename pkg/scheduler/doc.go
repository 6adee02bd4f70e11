// Package scheduler implements task assignment and preemption. Pickup
// resolves the next task for an agent through a strict rule order;
// PreemptIfNeeded reclaims one slot from a lower-priority task when a
// high-priority attack arrives on a saturated fleet.
package scheduler
