package core

// scheduler.go runs background maintenance for the session service.
//
// Sessions live only in memory, so an abandoned browser tab would otherwise
// hold its grid forever. The sweeper closes sessions that have been idle for
// longer than the configured timeout, skipping any with an operation in
// flight. It is long-running and stops when its context is cancelled.

import (
	"context"
	"log/slog"
	"time"
)

// SweepConfig holds configuration for the idle-session sweeper.
type SweepConfig struct {
	IdleTimeout   time.Duration // Close sessions idle this long (default: 30m)
	CheckInterval time.Duration // How often to sweep (default: 1m)
}

// StartSessionSweeper periodically closes idle sessions until ctx is cancelled.
func (s *Service) StartSessionSweeper(ctx context.Context, cfg SweepConfig) {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}

	slog.Info("session sweeper started",
		"idle_timeout", cfg.IdleTimeout,
		"check_interval", cfg.CheckInterval,
	)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.sweepIdle(cfg.IdleTimeout)
		}
	}
}

// sweepIdle closes sessions idle for longer than idleTimeout and returns how
// many were closed.
func (s *Service) sweepIdle(idleTimeout time.Duration) int {
	cutoff := s.now().Add(-idleTimeout)

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.Controller.Busy() {
			continue
		}
		if sess.idleSince().Before(cutoff) {
			expired = append(expired, id)
			delete(s.sessions, id)
		}
	}
	remaining := len(s.sessions)
	s.mu.Unlock()

	if len(expired) > 0 {
		slog.Info("idle sessions closed", "closed", len(expired), "remaining", remaining)
	}
	return len(expired)
}
