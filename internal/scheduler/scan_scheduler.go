package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agencyline/internal/engine"
)

// Runner is the work a daily run performs.
type Runner interface {
	ScanAll(ctx context.Context) (engine.ScanSummary, error)
	SyncStats(ctx context.Context) (int, error)
}

// ScanScheduler runs the website scan and the search stats sync once a day
// at a fixed UTC time of day.
type ScanScheduler struct {
	runner        Runner
	runAt         string
	logger        *slog.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	checkInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

// NewScanScheduler creates a scheduler; runAt is "HH:MM".
func NewScanScheduler(runner Runner, runAt string, logger *slog.Logger) *ScanScheduler {
	return &ScanScheduler{
		runner:        runner,
		runAt:         runAt,
		logger:        logger,
		stopChan:      make(chan struct{}),
		checkInterval: time.Minute,
		now:           time.Now,
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *ScanScheduler) Start(ctx context.Context) {
	s.logger.Info("starting scan scheduler", "run_at", s.runAt, "check_interval", s.checkInterval)
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx, s.now().UTC())
		case <-s.stopChan:
			s.logger.Info("scan scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("scan scheduler stopping due to context cancellation")
			return
		}
	}
}

func (s *ScanScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// tick runs the daily job when now matches runAt and it has not run today.
// It reports whether a run happened.
func (s *ScanScheduler) tick(ctx context.Context, now time.Time) bool {
	if now.Format("15:04") != s.runAt {
		return false
	}
	s.mu.Lock()
	if !s.lastRun.IsZero() && s.lastRun.Year() == now.Year() && s.lastRun.YearDay() == now.YearDay() {
		s.mu.Unlock()
		s.logger.Debug("daily scan already ran, skipping", "last_run_at", s.lastRun.Format(time.RFC3339))
		return false
	}
	s.lastRun = now
	s.mu.Unlock()

	s.logger.Info("running daily website scan")
	sum, err := s.runner.ScanAll(ctx)
	if err != nil {
		s.logger.Error("daily website scan aborted", "scanned", sum.Scanned, "failed", sum.Failed, "error", err)
	} else {
		s.logger.Info("daily website scan complete", "scanned", sum.Scanned, "failed", sum.Failed)
	}

	n, err := s.runner.SyncStats(ctx)
	if err != nil {
		s.logger.Error("search stats sync failed", "error", err)
		return true
	}
	s.logger.Info("search stats synced", "rows", n)
	return true
}
