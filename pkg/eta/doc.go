// Package eta estimates campaign completion times: when in-flight work
// will finish, and how long the waiting attacks will take at the
// fleet's best benchmarked speed. Estimates are cached briefly since
// they feed dashboards, not scheduling.
package eta
