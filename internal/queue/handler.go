package queue

import (
	"context"
	"log/slog"

	"github.com/jnwheeler44/tentd/internal/core/notifications"
)

// NewLogHandler returns a Handler that only logs each delivery.
// Remote delivery is plugged in by supplying a different Handler.
func NewLogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return HandlerFunc(func(ctx context.Context, task notifications.Task) error {
		logger.Info("notification delivered",
			"kind", task.Kind,
			"target", task.Target(),
			"public_id", task.PostID,
			"version", task.PostVersion)
		return nil
	})
}
