package service

import (
	"context"
	"log/slog"
	"time"
)

// StartCleanupWorker runs the expired-session sweep on a fixed interval
// until ctx is canceled. The first sweep runs immediately.
func (s *UploadService) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("cleanup worker started", "interval", interval)

	s.runCleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker shutting down")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *UploadService) runCleanup(ctx context.Context) {
	start := time.Now()
	result := s.CleanupExpiredUploads(ctx)
	duration := time.Since(start)

	if len(result.Errors) > 0 {
		slog.Error("cleanup finished with errors",
			"cleaned", result.Cleaned,
			"errors", result.Errors,
			"duration", duration,
		)
		return
	}
	if result.Cleaned > 0 {
		slog.Info("cleanup completed", "cleaned", result.Cleaned, "duration", duration)
	} else {
		slog.Debug("cleanup completed", "cleaned", result.Cleaned, "duration", duration)
	}
}
