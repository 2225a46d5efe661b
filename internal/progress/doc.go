// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces used to report scan job milestones. The hub batches events on a
// background goroutine and fans them out to sinks such as Prometheus metrics
// or structured logs.
package progress
