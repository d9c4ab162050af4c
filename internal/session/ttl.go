package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/agribot/internal/store"
)

const defaultSweepInterval = 5 * time.Minute

// StartTTLWorker runs a background goroutine that periodically deletes
// sessions idle for longer than ttl. It stops when ctx is cancelled.
func StartTTLWorker(ctx context.Context, repo store.Repository, ttl, interval time.Duration) {
	if ttl <= 0 {
		slog.Info("TTL worker disabled", "ttl", ttl)
		return
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredSessions(ctx context.Context, repo store.Repository, ttl time.Duration) int64 {
	deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("TTL worker: context canceled during sweep", "error", err)
			return 0
		}
		slog.Error("TTL worker failed to cleanup expired sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("TTL worker cleaned up expired sessions", "count", deleted)
	}
	return deleted
}
