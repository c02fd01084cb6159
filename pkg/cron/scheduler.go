// Package cron runs the background maintenance jobs.
package cron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SessionPruner deletes stale import sessions and reports how many went.
type SessionPruner interface {
	PruneStale(ctx context.Context) (int, error)
}

// Scheduler owns the recurring jobs. Jobs run with a background context;
// Stop waits for in-flight runs to finish.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// AddSessionPruning schedules the stale-session sweep. schedule uses the
// standard five-field cron syntax.
func (s *Scheduler) AddSessionPruning(schedule string, pruner SessionPruner) error {
	_, err := s.cron.AddFunc(schedule, func() {
		n, err := pruner.PruneStale(context.Background())
		if err != nil {
			s.logger.Error("session pruning failed", slog.Any("error", err))
			return
		}
		s.logger.Info("session pruning completed", slog.Int("pruned", n))
	})
	if err != nil {
		return fmt.Errorf("schedule session pruning: %w", err)
	}
	return nil
}

// Start launches the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and blocks until running jobs return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
