package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/sluicelabs/sluice/task"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *task.Request, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("request handler panicked",
					slog.String("request_id", req.ID.String()),
					slog.Int("attempt", task.AttemptFrom(ctx)),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in request %s: %v", req.ID, r)
			}
		}()
		return next(ctx)
	}
}
