// Package sweeper runs the periodic maintenance sweep that removes defunct
// sessions and expired password history from the store.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronoflow/timetracker/internal/config"
	"github.com/chronoflow/timetracker/internal/metrics"
	"github.com/chronoflow/timetracker/internal/repository"
	"github.com/chronoflow/timetracker/internal/session"
)

// Result holds the outcome of a single sweep run.
type Result struct {
	StartTime       time.Time
	EndTime         time.Time
	SessionsScanned int
	SessionsDeleted int64
	HistoryDeleted  int64
	ByReason        map[string]int
	Errors          []string
}

// Job scans the session store on an interval and deletes records that are
// expired, inactive, timed out, or orphaned. Each run also prunes password
// history past its retention window.
type Job struct {
	lifecycle *session.LifecycleManager
	history   repository.PasswordHistoryRepository
	cfg       config.SweepConfig
	logger    *slog.Logger
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	lastRun   time.Time
	lastRes   *Result
}

// NewJob creates a new Job instance
func NewJob(lifecycle *session.LifecycleManager, history repository.PasswordHistoryRepository, cfg config.SweepConfig, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	return &Job{
		lifecycle: lifecycle,
		history:   history,
		cfg:       cfg,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("sweep job is already running")
	}
	if !j.cfg.Enabled {
		j.logger.Info("maintenance sweep is disabled")
		return nil
	}

	j.running = true
	j.stopChan = make(chan struct{})
	j.wg.Add(1)
	go j.run()

	j.logger.Info("maintenance sweep started",
		slog.Duration("interval", j.cfg.Interval),
		slog.Int("page_size", j.cfg.PageSize))
	return nil
}

// Stop stops the periodic sweep and waits for an in-flight run to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stopChan)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("maintenance sweep stopped")
}

// IsRunning reports whether the sweep loop is active.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// LastResult returns the outcome of the most recent run.
func (j *Job) LastResult() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRes
}

func (j *Job) run() {
	defer j.wg.Done()

	// Run immediately on start.
	j.sweep()

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopChan:
			return
		}
	}
}

func (j *Job) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	result, err := j.RunNow(ctx)
	if err != nil {
		j.logger.Error("sweep run failed", slog.String("error", err.Error()))
		return
	}

	j.logger.Info("sweep completed",
		slog.Int("scanned", result.SessionsScanned),
		slog.Int64("sessions_deleted", result.SessionsDeleted),
		slog.Int64("history_deleted", result.HistoryDeleted),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)))
}

// RunNow performs a single sweep. The scan itself is fail-closed: a store
// error aborts the run rather than risking a partial view. Deletions are
// best-effort per batch.
func (j *Job) RunNow(ctx context.Context) (*Result, error) {
	result := &Result{
		StartTime: time.Now().UTC(),
		ByReason:  make(map[string]int),
	}

	sessions, err := j.lifecycle.GetAllSessions(ctx, j.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	result.SessionsScanned = len(sessions)

	now := time.Now().UTC()
	var doomed []uuid.UUID
	for _, s := range sessions {
		if del, reason := session.ShouldDeleteSession(s, now); del {
			doomed = append(doomed, s.ID)
			result.ByReason[reason]++
		}
	}

	if len(doomed) > 0 {
		result.SessionsDeleted = j.lifecycle.DeleteSessions(ctx, doomed)
		for reason, count := range result.ByReason {
			metrics.SessionsSweptTotal.WithLabelValues(reason).Add(float64(count))
		}
		if result.SessionsDeleted < int64(len(doomed)) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("deleted %d of %d defunct sessions", result.SessionsDeleted, len(doomed)))
		}
	}

	pruned, err := j.history.DeleteExpired(ctx, now)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to prune password history: %v", err))
		j.logger.Warn("password history prune failed", slog.String("error", err.Error()))
	}
	result.HistoryDeleted = pruned

	result.EndTime = time.Now().UTC()

	j.mu.Lock()
	j.lastRun = result.StartTime
	j.lastRes = result
	j.mu.Unlock()

	return result, nil
}
