// Package api exposes the HTTP surface: the agent protocol (pickup,
// status, crack submission, descriptors), the operator endpoints
// (campaigns, attacks, task control), resource transfer, and the
// health and metrics endpoints. Controllers stay thin; behavior lives
// in the services they delegate to.
package api
