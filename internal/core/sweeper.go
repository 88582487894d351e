package core

// sweeper.go runs the background expiry sweep for abandoned departure
// requests. A pending request nobody resolves inside the lookback window
// is flagged expired so it stops blocking fresh claims for the same
// equipment.
//
// The sweeper is long-running and context-aware for graceful shutdown.
// Sweep failures are logged and retried on the next tick; they never
// fail the application.

import (
	"context"
	"time"
)

// StartSweeper starts a background goroutine that flags stale pending
// requests as expired. It runs immediately on start, then every
// interval, and stops when the context is cancelled.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	s.logger.Info("expiry sweeper started", "interval", interval)

	s.runSweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Service) runSweep(ctx context.Context) {
	start := time.Now()
	expired, err := s.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("expired stale requests",
			"count", expired,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
