package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Heartbeater refreshes the scanner's liveness.
type Heartbeater interface {
	Heartbeat()
}

// Sweeper records absences for students without a record today.
type Sweeper interface {
	MarkAbsent(ctx context.Context) int
}

// Scheduler runs the periodic jobs in the school's time zone.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
}

// New creates a stopped scheduler.
func New(loc *time.Location, log *logrus.Entry) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		log: log,
	}
}

// AddHeartbeat refreshes hb every interval.
func (s *Scheduler) AddHeartbeat(interval time.Duration, hb Heartbeater) error {
	if interval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if _, err := s.cron.AddFunc("@every "+interval.String(), hb.Heartbeat); err != nil {
		return errors.Wrap(err, "schedule heartbeat")
	}
	return nil
}

// AddAbsentSweep runs the absentee sweep on a cron schedule. An empty schedule disables it.
func (s *Scheduler) AddAbsentSweep(schedule string, sw Sweeper, timeout time.Duration) error {
	if schedule == "" {
		s.log.Info("absentee sweep disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep(sw, timeout)); err != nil {
		return errors.Wrapf(err, "schedule absentee sweep %q", schedule)
	}
	s.log.WithField("schedule", schedule).Info("absentee sweep scheduled")
	return nil
}

func (s *Scheduler) sweep(sw Sweeper, timeout time.Duration) func() {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		n := sw.MarkAbsent(ctx)
		s.log.WithField("marked", n).Info("absentee sweep finished")
	}
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// Start runs the scheduler in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("jobs still running at shutdown")
	}
}

type cronLogger struct{ log *logrus.Entry }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out[k] = kv[i+1]
		}
	}
	return out
}
