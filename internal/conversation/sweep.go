package conversation

import (
	"context"
	"log/slog"
	"time"
)

// StartIdleSweeper runs a background goroutine that periodically evicts
// support conversations idle for longer than ttl. It stops when ctx ends.
func StartIdleSweeper(ctx context.Context, store *Store, interval, ttl time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Support sweep worker started", "interval", interval, "idle_ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if removed := store.EvictIdle(ClassSupport, ttl); removed > 0 {
					logger.Info("Support sweep evicted idle conversations", "count", removed)
				}
			case <-ctx.Done():
				logger.Info("Support sweep worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
