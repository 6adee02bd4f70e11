// Package objectstore catalogs the opaque blobs attacks reference:
// word lists, rule lists and mask lists. Each blob carries a sha256
// checksum and a file name; the store renders download URLs for agents
// and exposes a reachability probe for the health service.
package objectstore
