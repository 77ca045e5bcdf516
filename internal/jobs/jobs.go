// Package jobs runs periodic housekeeping on a cron schedule.
//
// KEY CONCEPTS:
//   - A Job is a plain func(ctx) error. The scheduler gives every run its own
//     timeout context, logs the outcome and counts it in Prometheus.
//   - cron.SkipIfStillRunning drops a tick when the previous run of the same
//     job has not finished, so slow runs never pile up.
//   - cron.Recover turns a panicking job into a logged error instead of a
//     crashed server.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sakif/inmyopinion/internal/metrics"
)

// DefaultTimeout bounds a single job run.
const DefaultTimeout = 2 * time.Minute

type Job func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewScheduler(logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		metrics: m,
		timeout: DefaultTimeout,
	}
}

// Add schedules job under name. spec is a standard five-field cron
// expression or a descriptor such as "@every 10m".
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("jobs: scheduling %s (%q): %w", name, spec, err)
	}
	s.logger.Info("job scheduled", slog.String("job", name), slog.String("spec", spec))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling new runs and waits (up to ctx) for running ones.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("jobs still running at shutdown")
	}
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := job(ctx)
	outcome := "success"
	if err != nil {
		outcome = "error"
		s.logger.Error("job failed",
			slog.String("job", name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Debug("job finished",
			slog.String("job", name),
			slog.Duration("duration", time.Since(start)),
		)
	}
	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(name, outcome).Inc()
	}
}

// cronLogger adapts slog to cron's logr-style Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
