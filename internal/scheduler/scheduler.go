package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Scheduler retrains on a cron schedule. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	trainer *Trainer
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
}

// New registers the retraining job. spec uses six fields with seconds first,
// for example "0 0 3 * * *" for 03:00 every day.
func New(spec string, trainer *Trainer) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		trainer: trainer,
		ctx:     ctx,
		cancel:  cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.retrain); err != nil {
		cancel()
		return nil, fmt.Errorf("register retrain job: %w", err)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler, cancels a running job and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// RunNow executes the retraining job immediately.
func (s *Scheduler) RunNow() {
	s.retrain()
}

func (s *Scheduler) retrain() {
	if !s.running.CompareAndSwap(false, true) {
		slog.Warn("retrain skipped, previous run still in progress")
		return
	}
	defer s.running.Store(false)

	slog.Info("running scheduled retrain", "dataset", s.trainer.DatasetPath())
	_, _ = s.trainer.Run(s.ctx, SourceScheduler)
}
