package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/store"
)

// staleSweepInterval is how often the pool scans for orphaned tasks.
const staleSweepInterval = time.Minute

// PoolHealth is the pool's health snapshot.
type PoolHealth struct {
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	TasksRequeued  int64          `json:"tasks_requeued"`
	LastStaleSweep time.Time      `json:"last_stale_sweep"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
}

// WorkerPool manages a pool of queue workers plus the stale-task sweep.
type WorkerPool struct {
	store    *store.Store
	settings *config.Settings
	executor Executor
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.Mutex
	started        bool
	tasksRequeued  int64
	lastStaleSweep time.Time
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(st *store.Store, settings *config.Settings, executor Executor) *WorkerPool {
	return &WorkerPool{
		store:    st,
		settings: settings,
		executor: executor,
		workers:  make([]*Worker, 0, settings.WorkerConcurrency),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns worker goroutines and the stale-task sweep.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true
	p.mu.Unlock()

	count := p.settings.WorkerConcurrency
	if count < 1 {
		count = 1
	}
	slog.Info("Starting worker pool", "worker_count", count)

	for i := 0; i < count; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.store, p.settings, p.executor)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runStaleSweep(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current tasks.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	p.mu.Lock()
	requeued := p.tasksRequeued
	lastSweep := p.lastStaleSweep
	p.mu.Unlock()

	return &PoolHealth{
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(p.workers),
		TasksRequeued:  requeued,
		LastStaleSweep: lastSweep,
		WorkerStats:    workerStats,
	}
}

// runStaleSweep periodically returns orphaned running tasks to the queue.
func (p *WorkerPool) runStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.RequeueStaleTasks(ctx, staleTaskAfter)
			if err != nil {
				slog.Error("Stale task sweep failed", "error", err)
				continue
			}
			p.mu.Lock()
			p.tasksRequeued += n
			p.lastStaleSweep = time.Now()
			p.mu.Unlock()
			if n > 0 {
				slog.Warn("Requeued stale tasks", "count", n)
			}
		}
	}
}
