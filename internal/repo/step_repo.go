package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Hive/internal/domain"
)

// StepRepo — репозиторий для работы со step executions.
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

// CreateForInstance материализует все шаги instance одной транзакцией.
// Либо все строки созданы, либо ни одной: instance без полного набора
// шагов не должен становиться видимым резолверу.
func (r *StepRepo) CreateForInstance(ctx context.Context, steps []domain.StepExecution) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range steps {
		if err := insertStep(ctx, tx, &steps[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertStep(ctx context.Context, tx pgx.Tx, step *domain.StepExecution) error {
	dependsJSON, err := json.Marshal(step.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	inputJSON, err := marshalMap(step.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	outputJSON, err := marshalMap(step.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}

	query := `
		INSERT INTO step_executions (
			id, instance_id, step_id, name, type, status, assigned_team, action,
			depends_on, optional, retry_count, max_retries, backoff_sec,
			iteration, approvals, input_data, output_data, child_instance_id,
			deadline, error, started_at, finished_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`
	_, err = tx.Exec(ctx, query,
		step.ID,
		step.InstanceID,
		step.StepID,
		nullString(step.Name),
		step.Type,
		step.Status,
		nullString(step.AssignedTeam),
		nullString(step.Action),
		dependsJSON,
		step.Optional,
		step.RetryCount,
		step.MaxRetries,
		step.BackoffSec,
		step.Iteration,
		step.Approvals,
		inputJSON,
		outputJSON,
		nullUUID(step.ChildInstanceID),
		step.Deadline,
		nullString(step.Error),
		step.StartedAt,
		step.FinishedAt,
		step.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert step execution: %w", err)
	}
	return nil
}

// GetByID возвращает step execution по ID.
func (r *StepRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.StepExecution, error) {
	query := selectStep + ` WHERE id = $1`
	return scanStep(r.pool.QueryRow(ctx, query, id))
}

// ListByInstance возвращает все шаги instance.
func (r *StepRepo) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]domain.StepExecution, error) {
	query := selectStep + `
		WHERE instance_id = $1
		ORDER BY created_at ASC, step_id ASC
	`
	return r.querySteps(ctx, query, instanceID)
}

// UpdateStatus переводит шаг из ожидаемого статуса в новый (CAS).
// Пишет все изменяемые поля шага; zero rows означает, что переход
// уже выполнен конкурентно, и вызывающий должен перечитать шаг.
func (r *StepRepo) UpdateStatus(ctx context.Context, step *domain.StepExecution, expected domain.StepStatus) error {
	outputJSON, err := marshalMap(step.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}

	query := `
		UPDATE step_executions
		SET status = $3, retry_count = $4, iteration = $5, approvals = $6,
		    output_data = $7, child_instance_id = $8, deadline = $9,
		    error = $10, started_at = $11, finished_at = $12
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query,
		step.ID,
		expected,
		step.Status,
		step.RetryCount,
		step.Iteration,
		step.Approvals,
		outputJSON,
		nullUUID(step.ChildInstanceID),
		step.Deadline,
		nullString(step.Error),
		step.StartedAt,
		step.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update step status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// RecordOutput записывает результат шага, не меняя статус.
// Используется, когда завершение шага удерживается finish-gating
// зависимостью: работа сделана, но статус остаётся RUNNING.
func (r *StepRepo) RecordOutput(ctx context.Context, id uuid.UUID, output map[string]any) error {
	if output == nil {
		output = make(map[string]any)
	}
	outputJSON, err := marshalMap(output)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}

	query := `
		UPDATE step_executions
		SET output_data = $2
		WHERE id = $1 AND status = 'RUNNING'
	`
	result, err := r.pool.Exec(ctx, query, id, outputJSON)
	if err != nil {
		return fmt.Errorf("record step output: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// CancelNonTerminalByInstance отменяет все незавершённые шаги instance.
// Возвращает ID отменённых шагов для записи аудита.
func (r *StepRepo) CancelNonTerminalByInstance(ctx context.Context, instanceID uuid.UUID, reason string) ([]uuid.UUID, error) {
	query := `
		UPDATE step_executions
		SET status = 'CANCELLED', error = $2, finished_at = now()
		WHERE instance_id = $1
		  AND status IN ('PENDING', 'READY', 'RUNNING')
		RETURNING id
	`
	rows, err := r.pool.Query(ctx, query, instanceID, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel steps: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cancelled step id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDeadlineExpired возвращает активные шаги с истёкшим дедлайном.
func (r *StepRepo) ListDeadlineExpired(ctx context.Context, now time.Time, limit int) ([]domain.StepExecution, error) {
	query := selectStep + `
		WHERE status IN ('READY', 'RUNNING')
		  AND deadline IS NOT NULL AND deadline < $1
		ORDER BY deadline ASC
		LIMIT $2
	`
	return r.querySteps(ctx, query, now, limit)
}

// --- Helpers ---

const selectStep = `
	SELECT id, instance_id, step_id, name, type, status, assigned_team, action,
	       depends_on, optional, retry_count, max_retries, backoff_sec,
	       iteration, approvals, input_data, output_data, child_instance_id,
	       deadline, error, started_at, finished_at, created_at
	FROM step_executions
`

func (r *StepRepo) querySteps(ctx context.Context, query string, args ...any) ([]domain.StepExecution, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.StepExecution
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

func scanStep(row pgx.Row) (*domain.StepExecution, error) {
	var step domain.StepExecution
	var name, team, action, errMsg *string
	var dependsJSON, inputJSON, outputJSON []byte

	err := row.Scan(
		&step.ID,
		&step.InstanceID,
		&step.StepID,
		&name,
		&step.Type,
		&step.Status,
		&team,
		&action,
		&dependsJSON,
		&step.Optional,
		&step.RetryCount,
		&step.MaxRetries,
		&step.BackoffSec,
		&step.Iteration,
		&step.Approvals,
		&inputJSON,
		&outputJSON,
		&step.ChildInstanceID,
		&step.Deadline,
		&errMsg,
		&step.StartedAt,
		&step.FinishedAt,
		&step.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step execution: %w", err)
	}

	if name != nil {
		step.Name = *name
	}
	if team != nil {
		step.AssignedTeam = *team
	}
	if action != nil {
		step.Action = *action
	}
	if errMsg != nil {
		step.Error = *errMsg
	}
	if len(dependsJSON) > 0 {
		if err := json.Unmarshal(dependsJSON, &step.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal depends_on: %w", err)
		}
	}
	if err := unmarshalMap(inputJSON, &step.InputData); err != nil {
		return nil, fmt.Errorf("unmarshal input_data: %w", err)
	}
	if err := unmarshalMap(outputJSON, &step.OutputData); err != nil {
		return nil, fmt.Errorf("unmarshal output_data: %w", err)
	}
	return &step, nil
}
