package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/inmyopinion/internal/metrics"
)

// Schedules used by the serve command.
const (
	ExpireTrialsSpec  = "@every 1h"
	SweepLimitersSpec = "@every 10m"
)

// TrialExpirer is implemented by service.BillingService.
type TrialExpirer interface {
	ExpireTrials(ctx context.Context) (int64, error)
}

// ExpireTrials ends writer trials whose end date has passed. Trial expiry is
// also checked on every request (policy compares the end date with now), so
// this job only keeps the stored status honest for listings and reports.
func ExpireTrials(b TrialExpirer, m *metrics.Metrics) Job {
	return func(ctx context.Context) error {
		n, err := b.ExpireTrials(ctx)
		if err != nil {
			return err
		}
		if m != nil && n > 0 {
			m.TrialsExpired.Add(float64(n))
		}
		return nil
	}
}

// Sweeper is implemented by the in-memory rate limiter.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SweepLimiters drops expired rate limit windows from in-memory limiters.
// Redis expires its keys on its own and needs no sweeping.
func SweepLimiters(logger *slog.Logger, now func() time.Time, sweepers ...Sweeper) Job {
	return func(context.Context) error {
		dropped := 0
		for _, s := range sweepers {
			dropped += s.Sweep(now())
		}
		if dropped > 0 {
			logger.Debug("rate limit windows swept", slog.Int("dropped", dropped))
		}
		return nil
	}
}
