// Package sluice provides a bounded-concurrency request dispatcher for
// Go. It admits work under a permit limit, fans it out across a fixed
// worker pool through a bounded FIFO queue, returns exactly one outcome
// per request, and drains gracefully on shutdown.
//
// Sluice is designed as a library, not a service. Import it, provide a
// handler, and submit payloads as ordinary byte slices.
//
// # Quick Start
//
//	d, err := sluice.New(
//	    sluice.WithHandler(handler),
//	    sluice.WithWorkerCount(8),
//	    sluice.WithAdmissionLimit(32),
//	)
//	if err != nil { ... }
//	if err := d.Start(ctx); err != nil { ... }
//
//	out, err := d.Submit(ctx, payload, task.WithTimeout(30*time.Second))
//
// # Architecture
//
// A submission flows caller → admission gate → work queue → worker →
// reply. The gate bounds total in-flight requests; the queue smooths
// bursts between admission and claim; each admitted request carries a
// one-slot reply channel the caller awaits. Every terminal outcome is
// also reported to the statistics collector, the lifecycle extension
// registry, and the in-process event stream.
//
// Shutdown walks Running → Draining → Stopped: admission closes first,
// in-flight requests finish within the grace period, and anything left
// is aborted with a synthetic outcome so no request is ever dropped
// silently.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package sluice
