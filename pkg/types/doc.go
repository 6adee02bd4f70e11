// Package types defines the CipherSwarm domain model: projects, hash
// lists, campaigns, attacks, tasks, agents, benchmarks, telemetry
// frames and agent errors, plus the explicit state machines that govern
// task, attack and agent lifecycles.
//
// Entities are plain records with owned foreign keys; associations are
// resolved through explicit storage queries, never through loaded
// object graphs. State transitions go through transition tables
// (taskTransitions, attackTransitions, agentTransitions) so every legal
// (state, event) pair is auditable in one place.
package types
