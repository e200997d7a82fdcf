package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/matchatime/sessiond/internal/services/iam"
)

type countingCleaner struct {
	calls atomic.Int32
	err   error
}

func (c *countingCleaner) Cleanup(context.Context) (iam.CleanupReport, error) {
	c.calls.Add(1)
	return iam.CleanupReport{RefreshTokens: 3}, c.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCleanupJob_RunOnce(t *testing.T) {
	cleaner := &countingCleaner{err: errors.New("db down")}
	job := NewCleanupJob(cleaner, 0, time.Hour, quietLogger())

	job.RunOnce(context.Background())
	job.RunOnce(context.Background())
	assert.EqualValues(t, 2, cleaner.calls.Load())
}

func TestCleanupJob_RunUntilCancelled(t *testing.T) {
	cleaner := &countingCleaner{}
	job := NewCleanupJob(cleaner, 0, 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return cleaner.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup job did not stop")
	}
}

func TestCleanupJob_CancelledDuringDelay(t *testing.T) {
	cleaner := &countingCleaner{}
	job := NewCleanupJob(cleaner, time.Hour, time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job.Run(ctx)
	assert.Zero(t, cleaner.calls.Load())
}
