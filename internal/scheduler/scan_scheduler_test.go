package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"agencyline/internal/engine"
)

type countingRunner struct {
	scans atomic.Int32
	syncs atomic.Int32
	fail  bool
}

func (r *countingRunner) ScanAll(context.Context) (engine.ScanSummary, error) {
	r.scans.Add(1)
	if r.fail {
		return engine.ScanSummary{Failed: 1}, errors.New("database unavailable")
	}
	return engine.ScanSummary{Scanned: 2}, nil
}

func (r *countingRunner) SyncStats(context.Context) (int, error) {
	r.syncs.Add(1)
	return 30, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickRunsOncePerDay(t *testing.T) {
	runner := &countingRunner{}
	s := NewScanScheduler(runner, "02:30", discard())
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, s.tick(ctx, day.Add(2*time.Hour+29*time.Minute)))
	assert.True(t, s.tick(ctx, day.Add(2*time.Hour+30*time.Minute)))
	assert.False(t, s.tick(ctx, day.Add(2*time.Hour+30*time.Minute+30*time.Second)))
	assert.True(t, s.tick(ctx, day.AddDate(0, 0, 1).Add(2*time.Hour+30*time.Minute)))

	assert.Equal(t, int32(2), runner.scans.Load())
	assert.Equal(t, int32(2), runner.syncs.Load())
}

func TestTickSyncsStatsEvenWhenScanFails(t *testing.T) {
	runner := &countingRunner{fail: true}
	s := NewScanScheduler(runner, "00:00", discard())
	assert.True(t, s.tick(context.Background(), time.Date(2024, 5, 1, 0, 0, 10, 0, time.UTC)))
	assert.Equal(t, int32(1), runner.syncs.Load())
}

func TestStartStopsOnCancel(t *testing.T) {
	s := NewScanScheduler(&countingRunner{}, "00:00", discard())
	s.checkInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	s2 := NewScanScheduler(&countingRunner{}, "00:00", discard())
	go s2.Stop()
	s2.Start(context.Background())
	s2.Stop()
}
