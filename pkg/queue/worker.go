// Package queue runs the database-backed triage task queue: a pool of
// workers claiming tasks with FOR UPDATE SKIP LOCKED, heartbeating while
// they run, and retrying failures with exponential backoff.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/store"
)

// Poll and heartbeat cadence. Tasks whose heartbeat stops for staleTaskAfter
// are treated as orphaned by a crashed worker and requeued.
const (
	pollInterval       = 2 * time.Second
	pollIntervalJitter = 500 * time.Millisecond
	heartbeatInterval  = 15 * time.Second
	staleTaskAfter     = 5 * time.Minute
)

// Executor processes one claimed triage task.
type Executor interface {
	Run(ctx context.Context, incidentID uuid.UUID) error
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID                string       `json:"id"`
	Status            WorkerStatus `json:"status"`
	CurrentIncidentID string       `json:"current_incident_id,omitempty"`
	TasksProcessed    int          `json:"tasks_processed"`
	LastActivity      time.Time    `json:"last_activity"`
}

// Worker is a single queue worker that polls for and processes triage tasks.
type Worker struct {
	id       string
	store    *store.Store
	settings *config.Settings
	executor Executor
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentIncidentID string
	tasksProcessed    int
	lastActivity      time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id string, st *store.Store, settings *config.Settings, executor Executor) *Worker {
	return &Worker{
		id:           id,
		store:        st,
		settings:     settings,
		executor:     executor,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// task. It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            w.status,
		CurrentIncidentID: w.currentIncidentID,
		TasksProcessed:    w.tasksProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, store.ErrNoTasksAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing task", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims one task and runs it through the executor. The task
// is acknowledged only after the executor returns, so a crash mid-run leaves
// the claim to the stale sweep instead of losing the task.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	task, err := w.claimNextTask(ctx)
	if err != nil {
		return err
	}

	log := slog.With("task_id", task.ID, "incident_id", task.IncidentID, "worker_id", w.id)
	log.Info("Task claimed", "attempt", task.Attempts)

	w.setStatus(WorkerStatusWorking, task.IncidentID.String())
	defer w.setStatus(WorkerStatusIdle, "")

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	go w.runHeartbeat(heartbeatCtx, task.ID)

	runErr := w.executor.Run(ctx, task.IncidentID)
	cancelHeartbeat()

	// Acknowledge on a background context: the worker context may already
	// be cancelled during shutdown and the claim must still settle.
	ackCtx, ackCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ackCancel()

	if runErr != nil {
		delay := w.retryDelay(task.Attempts)
		if err := w.store.FailTask(ackCtx, task.ID, task.Attempts, w.settings.TaskMaxRetries, delay, runErr); err != nil {
			log.Error("Failed to record task failure", "error", err)
			return err
		}
		log.Warn("Task failed", "attempt", task.Attempts, "retry_delay", delay, "error", runErr)
		return nil
	}

	if err := w.store.CompleteTask(ackCtx, task.ID); err != nil {
		log.Error("Failed to complete task", "error", err)
		return err
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("Task processing complete")
	return nil
}

// claimNextTask atomically claims the oldest due task in one transaction.
func (w *Worker) claimNextTask(ctx context.Context) (*store.TriageTask, error) {
	var task *store.TriageTask
	err := w.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		task, err = tx.ClaimNextTask(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// runHeartbeat periodically refreshes the claim for stale-task detection.
func (w *Worker) runHeartbeat(ctx context.Context, taskID uuid.UUID) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.HeartbeatTask(ctx, taskID); err != nil {
				slog.Warn("Heartbeat update failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// retryDelay is exponential backoff over the configured base, with optional
// jitter in [delay/2, delay).
func (w *Worker) retryDelay(attempt int) time.Duration {
	base := time.Duration(w.settings.RetryBackoffSeconds) * time.Second
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > 10*time.Minute {
			delay = 10 * time.Minute
			break
		}
	}
	if w.settings.RetryJitter && delay > time.Millisecond {
		delay = delay/2 + time.Duration(rand.Int64N(int64(delay/2)))
	}
	return delay
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := pollInterval
	jitter := pollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, incidentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentIncidentID = incidentID
	w.lastActivity = time.Now()
}
