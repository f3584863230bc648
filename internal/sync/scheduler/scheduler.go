// Package scheduler runs the background sweeper that resumes outbox entries
// left PENDING by callers that went away mid-batch. ERROR entries are never
// touched here; retrying them stays caller-driven.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/sync/outbox"
)

// Resumer re-drives stale PENDING entries.
type Resumer interface {
	Resume(ctx context.Context, olderThan time.Duration) (outbox.BatchResult, error)
}

// Scheduler manages the resume loop.
type Scheduler struct {
	resumer    Resumer
	interval   time.Duration
	staleAfter time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	isRunning  bool
	inProgress bool
	lastRun    time.Time
	lastResult outbox.BatchResult
	lastErr    error
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Interval   time.Duration // How often to sweep (default: 1 minute)
	StaleAfter time.Duration // Minimum age of a PENDING entry before it is resumed (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:   time.Minute,
		StaleAfter: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(resumer Resumer, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	s := &Scheduler{
		resumer:    resumer,
		interval:   config.Interval,
		staleAfter: config.StaleAfter,
	}
	if s.interval <= 0 {
		s.interval = defaults.Interval
	}
	if s.staleAfter <= 0 {
		s.staleAfter = defaults.StaleAfter
	}
	return s
}

// Start starts the sweep loop. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stopCh)

	logging.Info("Outbox resume sweeper started", map[string]interface{}{
		"interval":    s.interval.String(),
		"stale_after": s.staleAfter.String(),
	})
}

// Stop stops the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Outbox resume sweeper stopped", nil)
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, ran := s.RunOnce(ctx); !ran {
				logging.Debug("Resume sweep already in progress, skipping", nil)
			}
		}
	}
}

// RunOnce performs a single sweep. It reports false without sweeping when
// another sweep is in progress.
func (s *Scheduler) RunOnce(ctx context.Context) (outbox.BatchResult, bool) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return outbox.BatchResult{}, false
	}
	s.inProgress = true
	s.mu.Unlock()

	result, err := s.resumer.Resume(ctx, s.staleAfter)

	s.mu.Lock()
	s.inProgress = false
	s.lastRun = time.Now()
	s.lastResult = result
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		logging.Error("Resume sweep failed", err, nil)
	}
	return result, true
}

// SchedulerStatus is a snapshot of the sweeper state.
type SchedulerStatus struct {
	IsRunning  bool               `json:"running"`
	InProgress bool               `json:"inProgress"`
	LastRun    *time.Time         `json:"lastRun,omitempty"`
	LastResult outbox.BatchResult `json:"lastResult"`
	LastError  string             `json:"lastError,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:  s.isRunning,
		InProgress: s.inProgress,
		LastResult: s.lastResult,
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		status.LastRun = &last
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}
