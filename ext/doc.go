// Package ext defines the extension system for sluice.
//
// Extensions are notified of lifecycle events and can react to them —
// aggregating statistics, recording metrics, feeding live event
// streams, etc. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnRequestFinished(ctx context.Context, req *task.Request, out *task.Outcome) error {
//	    log.Printf("request %s finished with %s in %s", req.ID, out.Status, out.Latency)
//	    return nil
//	}
//
// # Request Lifecycle Hooks
//
//   - [RequestSubmitted] — request entered the dispatcher
//   - [RequestAdmitted] — request took a permit and was queued
//   - [RequestStarted] — a worker began processing the request
//   - [RequestRetrying] — an attempt failed and another is scheduled
//   - [RequestFinished] — terminal outcome produced (fires exactly once)
//   - [RequestRejected] — request refused before admission
//
// # Other Hooks
//
//   - [Shutdown] — the dispatcher has fully stopped
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged
// and never propagated, so a misbehaving extension cannot stall the
// processing pipeline.
package ext
