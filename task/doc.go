// Package task defines the request entity, terminal outcomes, and the
// handler contract.
//
// # Request
//
// A [Request] is one unit of work: an opaque payload plus an optional
// deadline. Its ID is a K-sortable TypeID ("req_..."), so submission
// order is recoverable from IDs alone. Requests are immutable after
// [New]; they move from the caller through the work queue to exactly
// one worker.
//
// # Outcome
//
// Every admitted request produces exactly one [Outcome], carrying one
// of five terminal statuses:
//
//	success   — handler returned nil
//	failed    — handler error or panic, retries exhausted
//	timed_out — deadline elapsed before or during processing
//	rejected  — refused at admission (closed, at capacity, queue full)
//	aborted   — forced shutdown terminated it mid-flight
//
// Latency measures admission to terminal outcome. Attempts counts
// handler invocations, including retries.
//
// # Handler
//
// A [Handler] is the processing function the dispatcher runs for each
// request:
//
//	func(ctx context.Context, req *task.Request) error {
//	    return process(ctx, req.Payload)
//	}
//
// Handlers must watch ctx: it is cancelled on deadline expiry and on
// forced shutdown. The worker package wraps handlers in a middleware
// chain for recovery, logging, and metrics.
package task
