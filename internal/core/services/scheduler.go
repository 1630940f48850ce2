package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// SchedulerTasks are the services the built-in tasks call. Any may be
// nil, which disables its task.
type SchedulerTasks struct {
	Watches     driving.WatchService
	Syncer      driving.SyncEngine
	Transformer driving.TransformOrchestrator
}

// Scheduler manages background task execution.
// It is a pure core service with no external control API.
type Scheduler struct {
	config  domain.SchedulerConfig
	history driven.TaskHistoryStore
	tasks   SchedulerTasks
	tick    time.Duration
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler with configuration.
func NewScheduler(
	config domain.SchedulerConfig,
	history driven.TaskHistoryStore,
	tasks SchedulerTasks,
) *Scheduler {
	return &Scheduler{
		config:   config,
		history:  history,
		tasks:    tasks,
		tick:     time.Minute,
		now:      time.Now,
		inFlight: make(map[string]bool),
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called
// or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		logger.Info("Scheduler disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	// Check for due tasks immediately on startup
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for running tasks to complete
	s.wg.Wait()
	return nil
}

// taskIDs lists the built-in tasks in run order.
var taskIDs = []string{
	domain.TaskIDWatchRenewal,
	domain.TaskIDCatchUpSync,
	domain.TaskIDPendingTransform,
}

// checkAndRunDueTasks starts every enabled task whose interval elapsed
// since its last recorded run. A task never overlaps itself.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	now := s.now()
	for _, id := range taskIDs {
		cfg := s.config.GetTaskConfig(id)
		if !cfg.Enabled || !s.hasRunner(id) {
			continue
		}
		due, err := s.isDue(ctx, id, cfg.Interval, now)
		if err != nil {
			logger.Warn("Scheduler: reading last run of %s: %v", id, err)
			continue
		}
		if !due {
			continue
		}

		s.mu.Lock()
		if s.inFlight[id] {
			s.mu.Unlock()
			continue
		}
		s.inFlight[id] = true
		s.mu.Unlock()

		s.runTask(ctx, id)
	}
}

func (s *Scheduler) hasRunner(id string) bool {
	switch id {
	case domain.TaskIDWatchRenewal:
		return s.tasks.Watches != nil
	case domain.TaskIDCatchUpSync:
		return s.tasks.Syncer != nil
	case domain.TaskIDPendingTransform:
		return s.tasks.Transformer != nil
	default:
		return false
	}
}

func (s *Scheduler) isDue(ctx context.Context, id string, interval time.Duration, now time.Time) (bool, error) {
	last, err := s.history.LastRun(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !now.Before(last.StartedAt.Add(interval)), nil
}

// runTask executes a single task.
func (s *Scheduler) runTask(ctx context.Context, id string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, id)
			s.mu.Unlock()
		}()

		result := domain.TaskResult{TaskID: id, StartedAt: s.now()}
		n, err := s.execute(ctx, id)
		result.EndedAt = s.now()
		result.ItemsProcessed = n
		if err != nil {
			result.Error = err.Error()
			logger.Warn("Scheduler: %s failed: %v", id, err)
		} else {
			result.Success = true
			logger.Debug("Scheduler: %s done, %d items in %s", id, n, result.EndedAt.Sub(result.StartedAt))
		}

		if recordErr := s.history.RecordResult(context.WithoutCancel(ctx), result); recordErr != nil {
			logger.Warn("Scheduler: recording result of %s: %v", id, recordErr)
		}
	}()
}

func (s *Scheduler) execute(ctx context.Context, id string) (int, error) {
	switch id {
	case domain.TaskIDWatchRenewal:
		return s.tasks.Watches.RenewDue(ctx)
	case domain.TaskIDCatchUpSync:
		return 0, s.tasks.Syncer.SyncAll(ctx, domain.SyncOptions{})
	case domain.TaskIDPendingTransform:
		report, err := s.tasks.Transformer.Run(ctx, domain.TransformOptions{})
		if report == nil {
			return 0, err
		}
		return report.Processed, err
	default:
		return 0, fmt.Errorf("unknown task %s", id)
	}
}
