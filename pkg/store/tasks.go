package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Triage task states.
const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// ErrNoTasksAvailable is returned when no queued task is due.
var ErrNoTasksAvailable = errors.New("no tasks available")

// TriageTask is one queued triage(incident_id) execution.
type TriageTask struct {
	ID            uuid.UUID
	IncidentID    uuid.UUID
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	StartedAt     *time.Time
	HeartbeatAt   *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EnqueueTriageTask adds a triage task for the incident. Duplicate enqueues
// are harmless: the runner's idempotence gate skips completed work.
func (s *Store) EnqueueTriageTask(ctx context.Context, incidentID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO triage_tasks (incident_id) VALUES ($1) RETURNING id`,
		incidentID).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue triage task: %w", err)
	}
	return id, nil
}

// ClaimNextTask atomically claims the oldest due task with
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
// Must run inside a transaction Store.
func (s *Store) ClaimNextTask(ctx context.Context) (*TriageTask, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, incident_id, attempts
		FROM triage_tasks
		WHERE status = $1 AND next_attempt_at <= now()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, TaskStatusQueued)

	var task TriageTask
	err := row.Scan(&task.ID, &task.IncidentID, &task.Attempts)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNoTasksAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("query queued task: %w", err)
	}

	err = s.q.QueryRowContext(ctx, `
		UPDATE triage_tasks
		SET status = $2, attempts = attempts + 1, started_at = now(),
		    heartbeat_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING attempts`, task.ID, TaskStatusRunning).Scan(&task.Attempts)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	task.Status = TaskStatusRunning
	return &task, nil
}

// HeartbeatTask refreshes the claim so the stale sweep leaves it alone.
func (s *Store) HeartbeatTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE triage_tasks SET heartbeat_at = now(), updated_at = now() WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("heartbeat task: %w", err)
	}
	return nil
}

// CompleteTask marks the task finished after a successful attempt. The
// update happens only after the runner returns, giving late-ack semantics.
func (s *Store) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE triage_tasks SET status = $2, updated_at = now() WHERE id = $1`,
		taskID, TaskStatusSucceeded)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// FailTask records a failed attempt: reschedule with the given delay while
// attempts remain, otherwise park the task as failed.
func (s *Store) FailTask(ctx context.Context, taskID uuid.UUID, attempt, maxRetries int, retryDelay time.Duration, taskErr error) error {
	msg := ""
	if taskErr != nil {
		msg = taskErr.Error()
	}
	if attempt > maxRetries {
		_, err := s.q.ExecContext(ctx, `
			UPDATE triage_tasks SET status = $2, last_error = $3, updated_at = now() WHERE id = $1`,
			taskID, TaskStatusFailed, strOrNil(msg))
		if err != nil {
			return fmt.Errorf("fail task: %w", err)
		}
		return nil
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE triage_tasks
		SET status = $2, last_error = $3, next_attempt_at = now() + $4::interval, updated_at = now()
		WHERE id = $1`,
		taskID, TaskStatusQueued, strOrNil(msg), fmt.Sprintf("%d seconds", int(retryDelay.Seconds())))
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	return nil
}

// RequeueStaleTasks returns running tasks whose heartbeat stopped (worker
// crash) to the queue. Returns how many were recovered.
func (s *Store) RequeueStaleTasks(ctx context.Context, staleAfter time.Duration) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE triage_tasks
		SET status = $1, next_attempt_at = now(), updated_at = now()
		WHERE status = $2 AND heartbeat_at < now() - $3::interval`,
		TaskStatusQueued, TaskStatusRunning, fmt.Sprintf("%d seconds", int(staleAfter.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("requeue stale tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
