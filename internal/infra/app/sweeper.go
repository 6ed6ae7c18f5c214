package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edukita/cbt-session-service/internal/infra/config"
	"github.com/edukita/cbt-session-service/internal/usecase"
)

// Sweeper periodically finalizes sessions whose deadline passed without a
// closing signal. Reads already treat expired rows as done; the sweep only
// bounds how long the stored row lags behind that view.
type Sweeper struct {
	monitor  *usecase.MonitorService
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewSweeper builds a sweeper from configuration, applying defaults for
// unset values.
func NewSweeper(monitor *usecase.MonitorService, cfg config.SweeperSettings, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := cfg.BatchLimit
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{
		monitor:  monitor,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.monitor == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("session sweeper started",
		zap.Duration("interval", s.interval),
		zap.Int("batch_limit", s.batch),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	closed, err := s.monitor.FinalizeExpired(ctx, s.batch)
	if err != nil {
		s.logger.Warn("sweep pass failed", zap.Error(err))
		return
	}
	if closed > 0 {
		s.logger.Info("sweep closed overdue sessions", zap.Int("count", closed))
	}
}
