// Package storage persists CipherSwarm server state in BoltDB.
//
// The Store interface exposes transactional closures (View, Update);
// the Txn interface carries every entity operation. BoltDB runs one
// writer at a time, so any multi-entity mutation grouped in an Update
// is serialized against all other writers, which is what the crack,
// assignment and preemption paths rely on. Tasks additionally carry an
// optimistic version counter so a stale in-memory copy cannot
// overwrite a concurrent transition.
//
// Hash items are stored in a per-list sub-bucket keyed by hash value,
// providing the (hash_list, hash_value) index the crack-submission path
// uses. Status frames are stored in a per-task sub-bucket keyed by an
// arrival sequence, so read order equals arrival order.
package storage
