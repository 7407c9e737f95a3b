package syncq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"fieldsync/internal/domain"
)

// Scheduler flushes the queue on a fixed cron cadence as a safety net for
// missed reachability edges (e.g. the remote recovered without a local
// connectivity transition). Flushes while offline are cheap: every delivery
// defers on the first transport error.
type Scheduler struct {
	cron   *cron.Cron
	mgr    *Manager
	reach  domain.Reachability
	logger *slog.Logger
}

// NewScheduler creates a Scheduler that flushes on the given cron spec
// (e.g. "@every 30s").
func NewScheduler(mgr *Manager, reach domain.Reachability, spec string, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		mgr:    mgr,
		reach:  reach,
		logger: logger,
	}

	_, err := s.cron.AddFunc(spec, func() {
		if s.reach.State() != domain.Online {
			return
		}
		if _, err := s.mgr.Flush(context.Background()); err != nil {
			s.logger.Error("scheduled flush failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid flush schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("flush scheduler started")
}

// Stop stops the cron loop, waiting for a running flush to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("flush scheduler stopped")
}
