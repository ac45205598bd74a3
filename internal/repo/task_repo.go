package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Hive/internal/domain"
)

// TaskRepo — репозиторий для работы с team tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// Create создаёт новый task. Частичный уникальный индекс гарантирует
// не более одного активного task на step execution: повторный диспатч
// возвращает ErrAlreadyExists, и вызывающий трактует его как no-op.
func (r *TaskRepo) Create(ctx context.Context, task *domain.TeamTask) error {
	inputJSON, err := marshalMap(task.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}

	query := `
		INSERT INTO team_tasks (
			id, step_execution_id, instance_id, team, action, attempt,
			priority, deadline, status, input, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		task.ID,
		task.StepExecutionID,
		task.InstanceID,
		task.Team,
		nullString(task.Action),
		task.Attempt,
		task.Priority,
		task.Deadline,
		task.Status,
		inputJSON,
		task.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.TeamTask, error) {
	query := selectTask + ` WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// ListPendingByTeam возвращает свободные tasks команды.
// Порядок: приоритет по убыванию, затем старшинство.
func (r *TaskRepo) ListPendingByTeam(ctx context.Context, team string, limit int) ([]domain.TeamTask, error) {
	query := selectTask + `
		WHERE team = $1 AND status = 'PENDING'
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`
	return r.queryTasks(ctx, query, team, limit)
}

// ListByInstance возвращает tasks одного instance.
func (r *TaskRepo) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]domain.TeamTask, error) {
	query := selectTask + `
		WHERE instance_id = $1
		ORDER BY created_at ASC
	`
	return r.queryTasks(ctx, query, instanceID)
}

// ListByStep возвращает tasks одного step execution (история попыток).
func (r *TaskRepo) ListByStep(ctx context.Context, stepExecID uuid.UUID) ([]domain.TeamTask, error) {
	query := selectTask + `
		WHERE step_execution_id = $1
		ORDER BY attempt ASC, created_at ASC
	`
	return r.queryTasks(ctx, query, stepExecID)
}

// Claim захватывает task участником команды (CAS PENDING → CLAIMED).
// Из двух конкурентных захватов одного task ровно один получает nil,
// остальные — ErrStaleStatus.
func (r *TaskRepo) Claim(ctx context.Context, id uuid.UUID, memberID string) (*domain.TeamTask, error) {
	query := `
		UPDATE team_tasks
		SET status = 'CLAIMED', claimed_by = $2, claimed_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + taskColumns
	task, err := scanTask(r.pool.QueryRow(ctx, query, id, memberID))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStaleStatus
	}
	return task, err
}

// UpdateStatus переводит task из ожидаемого статуса в новый (CAS).
func (r *TaskRepo) UpdateStatus(ctx context.Context, task *domain.TeamTask, expected domain.TaskStatus) error {
	outputJSON, err := marshalMap(task.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	query := `
		UPDATE team_tasks
		SET status = $3, output = $4, error = $5, finished_at = $6
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		expected,
		task.Status,
		outputJSON,
		nullString(task.Error),
		task.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// CancelActiveByInstance отменяет все активные tasks instance.
func (r *TaskRepo) CancelActiveByInstance(ctx context.Context, instanceID uuid.UUID, reason string) ([]uuid.UUID, error) {
	query := `
		UPDATE team_tasks
		SET status = 'CANCELLED', error = $2, finished_at = now()
		WHERE instance_id = $1
		  AND status IN ('PENDING', 'CLAIMED', 'IN_PROGRESS')
		RETURNING id
	`
	return r.cancelReturning(ctx, query, instanceID, reason)
}

// CancelActiveByStep отменяет активный task одного step execution.
func (r *TaskRepo) CancelActiveByStep(ctx context.Context, stepExecID uuid.UUID, reason string) ([]uuid.UUID, error) {
	query := `
		UPDATE team_tasks
		SET status = 'CANCELLED', error = $2, finished_at = now()
		WHERE step_execution_id = $1
		  AND status IN ('PENDING', 'CLAIMED', 'IN_PROGRESS')
		RETURNING id
	`
	return r.cancelReturning(ctx, query, stepExecID, reason)
}

// --- Helpers ---

const taskColumns = `
	id, step_execution_id, instance_id, team, action, attempt, priority,
	deadline, status, claimed_by, input, output, error,
	created_at, claimed_at, finished_at
`

const selectTask = `SELECT ` + taskColumns + ` FROM team_tasks`

func (r *TaskRepo) queryTasks(ctx context.Context, query string, args ...any) ([]domain.TeamTask, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.TeamTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func (r *TaskRepo) cancelReturning(ctx context.Context, query string, id uuid.UUID, reason string) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, id, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel tasks: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var taskID uuid.UUID
		if err := rows.Scan(&taskID); err != nil {
			return nil, fmt.Errorf("scan cancelled task id: %w", err)
		}
		ids = append(ids, taskID)
	}
	return ids, rows.Err()
}

func scanTask(row pgx.Row) (*domain.TeamTask, error) {
	var task domain.TeamTask
	var action, claimedBy, errMsg *string
	var inputJSON, outputJSON []byte

	err := row.Scan(
		&task.ID,
		&task.StepExecutionID,
		&task.InstanceID,
		&task.Team,
		&action,
		&task.Attempt,
		&task.Priority,
		&task.Deadline,
		&task.Status,
		&claimedBy,
		&inputJSON,
		&outputJSON,
		&errMsg,
		&task.CreatedAt,
		&task.ClaimedAt,
		&task.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if action != nil {
		task.Action = *action
	}
	if claimedBy != nil {
		task.ClaimedBy = *claimedBy
	}
	if errMsg != nil {
		task.Error = *errMsg
	}
	if err := unmarshalMap(inputJSON, &task.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := unmarshalMap(outputJSON, &task.Output); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	return &task, nil
}
