package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler drives registered Jobs on cron schedules. It is a thin wrapper
// over robfig/cron so callers work against the Job interface rather than
// cron's raw func() signature.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLogger(zerologCronLogger{log})),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Register schedules job to run on spec (standard 5-field cron syntax, e.g.
// "0 18 * * 1-5" for weekdays at 18:00). A job's own Run error is logged but
// never panics the scheduler.
func (s *Scheduler) Register(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := job.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("scheduled job failed")
		}
	})
	return err
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels future runs and waits for any in-flight job to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// zerologCronLogger adapts cron.Logger to zerolog instead of the standard
// log package.
type zerologCronLogger struct {
	log zerolog.Logger
}

func (l zerologCronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l zerologCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
