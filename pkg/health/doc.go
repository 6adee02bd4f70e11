// Package health probes the server's external dependencies: the
// database, the in-memory store, object storage and the background job
// loops. Probing is serialized behind a named TTL lock so a burst of
// health requests does not stampede the dependencies.
package health
