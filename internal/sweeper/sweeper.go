// Package sweeper periodically expires stale kiosk codes and sessions.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kiosk-control-plane/backend/internal/logger"
)

// CodeExpirer marks ACTIVE codes past their expiry as EXPIRED.
type CodeExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// SessionSweeper ends open sessions past their lifetime.
type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Result is the outcome of one sweep.
type Result struct {
	CodesExpired  int
	SessionsEnded int
}

// Sweeper runs both sweeps on an interval. Both are idempotent, so several workers may run at once.
type Sweeper struct {
	codes    CodeExpirer
	sessions SessionSweeper
	interval time.Duration
	logger   *zap.Logger
}

// New returns a Sweeper. A non-positive interval defaults to one minute.
func New(codes CodeExpirer, sessions SessionSweeper, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{codes: codes, sessions: sessions, interval: interval, logger: logger.OrNop(log)}
}

// Once runs one sweep. A failing code sweep does not skip the session sweep; errors are logged.
func (s *Sweeper) Once(ctx context.Context) Result {
	var res Result
	n, err := s.codes.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("sweeper: expire codes", zap.Error(err))
	}
	res.CodesExpired = n
	n, err = s.sessions.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("sweeper: end expired sessions", zap.Error(err))
	}
	res.SessionsEnded = n
	if res.CodesExpired > 0 || res.SessionsEnded > 0 {
		s.logger.Info("sweep finished",
			zap.Int("codes_expired", res.CodesExpired),
			zap.Int("sessions_ended", res.SessionsEnded))
	}
	return res
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		s.Once(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-t.C:
		}
	}
}
