package reclaim

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"replaykeeper/internal/logging"
)

// Scheduler runs a Reclaimer's RunOnce on a fixed interval. It is a
// deliberately small wrapper around gocron.Scheduler: there is exactly one
// job here, so none of gocron's per-job progress tracking or rebuildable
// concurrency limits are exposed.
type Scheduler struct {
	gocron    gocron.Scheduler
	reclaimer *Reclaimer
	logger    *slog.Logger
}

// NewScheduler builds a Scheduler that runs r.RunOnce every interval,
// starting with an immediate first pass.
func NewScheduler(r *Reclaimer, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	sched := &Scheduler{gocron: s, reclaimer: r, logger: logging.Default(logger)}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sched.runAndLog),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, err
	}

	return sched, nil
}

func (s *Scheduler) runAndLog() {
	if err := s.reclaimer.RunOnce(); err != nil {
		s.logger.Warn("reclaim pass failed, will retry next interval", "error", err)
	}
}

// Start begins running the periodic job. Non-blocking.
func (s *Scheduler) Start() {
	s.gocron.Start()
}

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Scheduler) Stop() error {
	return s.gocron.Shutdown()
}
