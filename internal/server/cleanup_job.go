package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/matchatime/sessiond/internal/services/iam"
)

// Cleaner runs one maintenance sweep. iam.Service implements it.
type Cleaner interface {
	Cleanup(ctx context.Context) (iam.CleanupReport, error)
}

// CleanupJob sweeps expired tokens and stale unverified accounts on a timer.
// Sweeps are idempotent, so overlapping with a CLI-triggered sweep is harmless.
type CleanupJob struct {
	cleaner      Cleaner
	initialDelay time.Duration
	interval     time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// NewCleanupJob creates a job. A non-positive interval defaults to six hours.
func NewCleanupJob(cleaner Cleaner, initialDelay, interval time.Duration, logger *slog.Logger) *CleanupJob {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if initialDelay < 0 {
		initialDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		cleaner:      cleaner,
		initialDelay: initialDelay,
		interval:     interval,
		timeout:      5 * time.Minute,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled. The first sweep runs after the initial delay.
func (j *CleanupJob) Run(ctx context.Context) {
	delay := time.NewTimer(j.initialDelay)
	defer delay.Stop()

	select {
	case <-delay.C:
	case <-ctx.Done():
		return
	}
	j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-ctx.Done():
			j.logger.Info("stopping cleanup job")
			return
		}
	}
}

// RunOnce performs a single sweep and logs the counts.
func (j *CleanupJob) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	report, err := j.cleaner.Cleanup(ctx)
	attrs := []any{
		"refresh_tokens", report.RefreshTokens,
		"one_time_tokens", report.OneTimeTokens,
		"unverified_users", report.UnverifiedUsers,
	}
	if err != nil {
		j.logger.ErrorContext(ctx, "cleanup sweep failed", append(attrs, "error", err)...)
		return
	}
	j.logger.InfoContext(ctx, "cleanup sweep complete", attrs...)
}
