// Package metrics writes supervisor cycle metrics to InfluxDB.
//
// Optional (metrics.enabled in config.yaml). Each state transition becomes
// a point in the nodewatch_state measurement, tagged by state, carrying the
// restart count and, for completed cycles, the child's uptime. Writes are
// batched and asynchronous; failures are logged and never affect the
// supervision loop.
package metrics
