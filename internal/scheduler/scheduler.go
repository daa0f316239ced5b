// Package scheduler runs FlowPipe's periodic housekeeping.
//
// Jobs are registered with cron expressions (standard 5-field or descriptors
// such as "@every 5m"). Each run gets its own timeout-bounded context and
// panics are recovered.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/store"
	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = time.Minute

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		timeout: DefaultJobTimeout,
	}
}

// AddJob schedules job under name. An invalid expression is an error.
func (s *Scheduler) AddJob(expr, name string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}
	logx.Info().Str("job", name).Str("schedule", expr).Msg("Scheduler.AddJob: job scheduled")
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	if err := job(ctx); err != nil {
		logx.Error().Err(err).Str("job", name).Msg("Scheduler.run: job failed")
		return
	}
	logx.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("Scheduler.run: job finished")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// SweepSessions returns a job that deletes expired sessions from sw.
func SweepSessions(sw store.Sweeper) Job {
	return func(ctx context.Context) error {
		n, err := sw.DeleteExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logx.Info().Str("event", "sessions_swept").Int64("count", n).Msg("SweepSessions: expired sessions deleted")
		}
		return nil
	}
}
