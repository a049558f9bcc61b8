package advisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/copyleftdev/setpoint/internal/errors"
)

// Optimizer runs one optimization cycle.
type Optimizer interface {
	Optimize(ctx context.Context, req Request) (*Response, error)
}

// Scheduler runs an optimizer on a fixed interval.
type Scheduler struct {
	optimizer Optimizer
	interval  time.Duration
	request   Request
	logger    *zap.Logger
}

// NewScheduler creates a scheduler issuing req every interval.
func NewScheduler(o Optimizer, interval time.Duration, req Request, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		optimizer: o,
		interval:  interval,
		request:   req,
		logger:    logger.Named("scheduler"),
	}
}

// Run blocks until ctx is done. A non-positive interval returns at once.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Scheduled optimization disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Scheduled optimization started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduled optimization stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	resp, err := s.optimizer.Optimize(ctx, s.request)
	switch {
	case err == nil:
		s.logger.Info("Scheduled optimization completed", zap.String("id", resp.ID))
	case ctx.Err() != nil:
	case apperrors.KindOf(err) == apperrors.KindDataInsufficient:
		s.logger.Info("Skipping scheduled optimization", zap.Error(err))
	default:
		s.logger.Error("Scheduled optimization failed", zap.Error(err))
	}
}
