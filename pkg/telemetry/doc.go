// Package telemetry ingests the periodic status frames agents submit
// while running hashcat. Frames are validated, persisted in arrival
// order, and answered with a directive: continue, re-sync cracks, or
// pause.
package telemetry
