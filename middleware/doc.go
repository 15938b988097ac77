// Package middleware provides composable middleware for request execution.
//
// A [Middleware] is a function that wraps a request handler. Middleware are
// composed into a chain using [Chain] and applied around each processing
// attempt. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// recover → logging → handler
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Recover] — catches panics and converts them to errors
//   - [Logging] — logs request ID, attempt, duration, and outcome
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-attempt duration and outcome counters
//
// The worker executor always installs Recover as the outermost wrapper so
// a panicking handler can never kill a worker loop.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, req *task.Request, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
