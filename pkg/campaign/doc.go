// Package campaign handles campaign and attack administration. Pausing
// a campaign cascades to its attacks and their running tasks; resuming
// walks the same path back. Abandoning an attack destroys its tasks. A
// background sweep removes finished tasks past retention.
package campaign
