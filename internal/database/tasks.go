package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// TaskStore persists Task rows and implements the single atomic claim that
// allows N workers to run without coordination.
type TaskStore struct {
	db *DB
}

// NewTaskStore constructs a TaskStore over db.
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

// Enqueue validates and inserts a new task in status=pending. The insert
// trigger (migrations/000002_task_notify_trigger.up.sql) fires the store-side
// notification consumed by internal/notifier.
func (s *TaskStore) Enqueue(ctx context.Context, taskType models.TaskType, request json.RawMessage) (*models.Task, error) {
	if err := validateRequest(taskType, request); err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:       uuid.New(),
		TaskType: taskType,
		Status:   models.TaskStatusPending,
		Request:  request,
		Progress: 0,
	}

	const q = `
		INSERT INTO tasks (id, task_type, status, request, progress)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING created_at`

	if err := s.db.GetContext(ctx, &task.CreatedAt, q, task.ID, task.TaskType, task.Status, []byte(task.Request)); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to enqueue task", err)
	}
	return task, nil
}

func validateRequest(taskType models.TaskType, request json.RawMessage) error {
	switch taskType {
	case models.TaskTypePipeline:
		var req models.PipelineRequest
		if err := json.Unmarshal(request, &req); err != nil {
			return apperr.Validation("invalid pipeline task request")
		}
		if req.ChannelURL == "" {
			return apperr.Validation("pipeline task requires channel_url")
		}
	case models.TaskTypeEmbedQuestion:
		var req models.EmbedQuestionRequest
		if err := json.Unmarshal(request, &req); err != nil {
			return apperr.Validation("invalid embed_question task request")
		}
		if req.QuestionToEmbed == "" {
			return apperr.Validation("embed_question task requires question_to_embed")
		}
	default:
		return apperr.Validation(fmt.Sprintf("unknown task_type %q", taskType))
	}
	return nil
}

// ClaimOne selects the oldest pending task under a row lock that skips
// already-locked rows, flips it to running, and stamps started_at. It
// returns (nil, nil) when no pending task is available.
func (s *TaskStore) ClaimOne(ctx context.Context) (task *models.Task, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to begin claim transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	var t models.Task
	const selectQ = `
		SELECT id, task_type, status, request, progress, error_message, result,
		       created_at, started_at, completed_at
		FROM tasks
		WHERE status = 'pending'
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`

	if err = tx.GetContext(ctx, &t, selectQ); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindCritical, "failed to select claimable task", err)
	}

	now := time.Now().UTC()
	const updateQ = `
		UPDATE tasks SET status = 'running', started_at = $2
		WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQ, t.ID, now); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to claim task", err)
	}

	if err = recordTransitionTx(ctx, tx, t.ID, t.Status, models.TaskStatusRunning, nil); err != nil {
		return nil, err
	}

	t.Status = models.TaskStatusRunning
	t.StartedAt = &now
	task = &t
	return task, nil
}

// UpdateProgress advances a running task's progress, optionally attaching a
// partial result snippet. Progress is expected to be monotonically
// non-decreasing within a single run attempt; callers are responsible for
// that ordering.
func (s *TaskStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, resultSnippet *string) error {
	const q = `UPDATE tasks SET progress = $2, result = COALESCE($3, result) WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, progress, resultSnippet); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to update task progress", err)
	}
	return nil
}

// Fail transitions a task to status=failed with the given error message.
func (s *TaskStore) Fail(ctx context.Context, id uuid.UUID, errMsg string) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to begin transition transaction", err)
	}
	defer func() { finishTx(tx, &err) }()

	from, err := lockTaskStatus(ctx, tx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'failed', error_message = $2, completed_at = $3 WHERE id = $1`,
		id, errMsg, now); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to fail task", err)
	}

	return recordTransitionTx(ctx, tx, id, from, models.TaskStatusFailed, &errMsg)
}

// Complete transitions a task to status=completed with an optional result
// payload.
func (s *TaskStore) Complete(ctx context.Context, id uuid.UUID, result *string) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to begin transition transaction", err)
	}
	defer func() { finishTx(tx, &err) }()

	from, err := lockTaskStatus(ctx, tx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'completed', progress = 100, result = COALESCE($2, result), completed_at = $3 WHERE id = $1`,
		id, result, now); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to complete task", err)
	}

	return recordTransitionTx(ctx, tx, id, from, models.TaskStatusCompleted, nil)
}

// finishTx rolls back on panic or error, otherwise commits. It follows the
// named-return defer pattern used throughout this package's predecessor.
func finishTx(tx interface {
	Rollback() error
	Commit() error
}, err *error) {
	if p := recover(); p != nil {
		tx.Rollback()
		panic(p)
	}
	if *err != nil {
		tx.Rollback()
		return
	}
	*err = tx.Commit()
}

func lockTaskStatus(ctx context.Context, tx interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}, id uuid.UUID) (models.TaskStatus, error) {
	var from models.TaskStatus
	if err := tx.GetContext(ctx, &from, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.NotFound("task not found")
		}
		return "", apperr.Wrap(apperr.KindCritical, "failed to read task for transition", err)
	}
	return from, nil
}

func recordTransitionTx(ctx context.Context, tx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}, id uuid.UUID, from models.TaskStatus, to models.TaskStatus, reason *string) error {
	const q = `
		INSERT INTO task_transitions (task_id, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, q, id, from, to, reason); err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to record task transition", err)
	}
	return nil
}

// ResetStuck transitions every running task to failed with
// error_message="worker restarted". Called once at worker boot to recover
// from a crash that left rows claimed but abandoned.
func (s *TaskStore) ResetStuck(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT id FROM tasks WHERE status = 'running' FOR UPDATE`)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindCritical, "failed to scan stuck tasks", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, apperr.Wrap(apperr.KindCritical, "failed to scan stuck task id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := s.Fail(ctx, id, "worker restarted"); err != nil {
			return 0, err
		}
	}
	return int64(len(ids)), nil
}

// Get fetches a task by id.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var t models.Task
	const q = `
		SELECT id, task_type, status, request, progress, error_message, result,
		       created_at, started_at, completed_at
		FROM tasks WHERE id = $1`
	if err := s.db.GetContext(ctx, &t, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("task not found")
		}
		return nil, apperr.Wrap(apperr.KindCritical, "failed to fetch task", err)
	}
	return &t, nil
}

// List returns a page of tasks, optionally filtered by status.
func (s *TaskStore) List(ctx context.Context, status *models.TaskStatus, page, pageSize int) ([]models.Task, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var tasks []models.Task
	if status != nil {
		const q = `
			SELECT id, task_type, status, request, progress, error_message, result,
			       created_at, started_at, completed_at
			FROM tasks WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		if err := s.db.SelectContext(ctx, &tasks, q, *status, pageSize, offset); err != nil {
			return nil, apperr.Wrap(apperr.KindCritical, "failed to list tasks", err)
		}
		return tasks, nil
	}
	const q = `
		SELECT id, task_type, status, request, progress, error_message, result,
		       created_at, started_at, completed_at
		FROM tasks ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := s.db.SelectContext(ctx, &tasks, q, pageSize, offset); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list tasks", err)
	}
	return tasks, nil
}

// Delete removes a task row by id.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindCritical, "failed to delete task", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("task not found")
	}
	return nil
}

// ListTransitions returns the audit trail for a task in chronological order.
func (s *TaskStore) ListTransitions(ctx context.Context, id uuid.UUID) ([]models.TaskTransition, error) {
	var out []models.TaskTransition
	const q = `
		SELECT id, task_id, from_status, to_status, reason, created_at
		FROM task_transitions WHERE task_id = $1 ORDER BY created_at ASC`
	if err := s.db.SelectContext(ctx, &out, q, id); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list task transitions", err)
	}
	return out, nil
}

// DeleteExpired purges terminal tasks older than the retention window.
func (s *TaskStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN ('completed','failed') AND completed_at < $1`, before)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindCritical, "failed to delete expired tasks", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecentlyTerminal returns every completed or failed task whose
// completed_at falls within the window ending now, for the /pipeline/events
// SSE poll loop (spec.md §5).
func (s *TaskStore) RecentlyTerminal(ctx context.Context, since time.Time) ([]models.Task, error) {
	var tasks []models.Task
	const q = `
		SELECT id, task_type, status, request, progress, error_message, result,
		       created_at, started_at, completed_at
		FROM tasks
		WHERE status IN ('completed','failed') AND completed_at >= $1
		ORDER BY completed_at ASC`
	if err := s.db.SelectContext(ctx, &tasks, q, since); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to list recently terminal tasks", err)
	}
	return tasks, nil
}

// Stats returns a count of tasks grouped by status, for GET /pipeline/stats.
func (s *TaskStore) Stats(ctx context.Context) (map[models.TaskStatus]int64, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to compute task stats", err)
	}
	defer rows.Close()

	out := map[models.TaskStatus]int64{}
	for rows.Next() {
		var status models.TaskStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperr.Wrap(apperr.KindCritical, "failed to scan task stats", err)
		}
		out[status] = count
	}
	return out, nil
}
