// Package log wraps zerolog for the server and provides the uniform
// state-change record surface: every task, attack, campaign and agent
// lifecycle transition, API error, data-cleanup action and broadcast
// failure goes through the same record shape so operators can follow a
// task's life from a single stream. API error backtraces are truncated
// to the first five frames; cleanup records for zero affected rows are
// suppressed.
package log
