package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/sluicelabs/sluice/task"
)

// Logging returns middleware that logs the start and completion of each
// processing attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *task.Request, next Handler) error {
		logger.Debug("request processing",
			slog.String("request_id", req.ID.String()),
			slog.String("worker_id", task.WorkerIDFrom(ctx).String()),
			slog.Int("attempt", task.AttemptFrom(ctx)),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("request attempt failed",
				slog.String("request_id", req.ID.String()),
				slog.Int("attempt", task.AttemptFrom(ctx)),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("request processed",
				slog.String("request_id", req.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
