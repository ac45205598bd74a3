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

// InstanceRepo — репозиторий для работы с workflow instances.
type InstanceRepo struct {
	pool *pgxpool.Pool
}

// NewInstanceRepo создаёт новый InstanceRepo.
func NewInstanceRepo(pool *pgxpool.Pool) *InstanceRepo {
	return &InstanceRepo{pool: pool}
}

// Create создаёт новый instance.
// Для инстансов, созданных триггером, уникальность (trigger_id, fire_key)
// закреплена частичным индексом: повторное срабатывание возвращает
// ErrAlreadyExists.
func (r *InstanceRepo) Create(ctx context.Context, inst *domain.WorkflowInstance) error {
	contextJSON, err := marshalMap(inst.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (
			id, definition_id, version, status, context, priority, deadline,
			parent_instance_id, parent_step_id, root_instance_id, depth,
			trigger_id, fire_key, reason, started_at, finished_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.pool.Exec(ctx, query,
		inst.ID,
		inst.DefinitionID,
		inst.Version,
		inst.Status,
		contextJSON,
		inst.Priority,
		inst.Deadline,
		nullUUID(inst.ParentInstanceID),
		nullUUID(inst.ParentStepID),
		inst.RootInstanceID,
		inst.Depth,
		nullUUID(inst.TriggerID),
		nullString(inst.FireKey),
		nullString(inst.Reason),
		inst.StartedAt,
		inst.FinishedAt,
		inst.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetByID возвращает instance по ID.
func (r *InstanceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	query := selectInstance + ` WHERE id = $1`
	return scanInstance(r.pool.QueryRow(ctx, query, id))
}

// UpdateStatus переводит instance из ожидаемого статуса в новый (CAS).
// Возвращает ErrStaleStatus, если статус в БД уже не совпадает с
// ожидаемым: значит, переход выполнил кто-то другой.
func (r *InstanceRepo) UpdateStatus(ctx context.Context, inst *domain.WorkflowInstance, expected domain.InstanceStatus) error {
	query := `
		UPDATE workflow_instances
		SET status = $3, reason = $4, started_at = $5, finished_at = $6
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query,
		inst.ID,
		expected,
		inst.Status,
		nullString(inst.Reason),
		inst.StartedAt,
		inst.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// UpdateContext перезаписывает контекст instance.
func (r *InstanceRepo) UpdateContext(ctx context.Context, id uuid.UUID, instContext map[string]any) error {
	contextJSON, err := marshalMap(instContext)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `UPDATE workflow_instances SET context = $2 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, contextJSON)
	if err != nil {
		return fmt.Errorf("update instance context: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive возвращает нетерминальные instances (для polling fallback).
func (r *InstanceRepo) ListActive(ctx context.Context, limit int) ([]domain.WorkflowInstance, error) {
	query := selectInstance + `
		WHERE status IN ('INITIALIZING', 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.queryInstances(ctx, query, limit)
}

// ListByStatus возвращает instances в указанном статусе.
func (r *InstanceRepo) ListByStatus(ctx context.Context, status domain.InstanceStatus, limit int) ([]domain.WorkflowInstance, error) {
	query := selectInstance + `
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryInstances(ctx, query, status, limit)
}

// ListByDefinition возвращает instances одного definition.
func (r *InstanceRepo) ListByDefinition(ctx context.Context, definitionID uuid.UUID, limit int) ([]domain.WorkflowInstance, error) {
	query := selectInstance + `
		WHERE definition_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryInstances(ctx, query, definitionID, limit)
}

// ListByParent возвращает дочерние instances (каскад отмены).
func (r *InstanceRepo) ListByParent(ctx context.Context, parentID uuid.UUID) ([]domain.WorkflowInstance, error) {
	query := selectInstance + `
		WHERE parent_instance_id = $1
		ORDER BY created_at ASC
	`
	return r.queryInstances(ctx, query, parentID)
}

// ListDeadlineExpired возвращает активные instances с истёкшим дедлайном.
func (r *InstanceRepo) ListDeadlineExpired(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowInstance, error) {
	query := selectInstance + `
		WHERE status IN ('INITIALIZING', 'RUNNING', 'PAUSED')
		  AND deadline IS NOT NULL AND deadline < $1
		ORDER BY deadline ASC
		LIMIT $2
	`
	return r.queryInstances(ctx, query, now, limit)
}

// --- Helpers ---

const selectInstance = `
	SELECT id, definition_id, version, status, context, priority, deadline,
	       parent_instance_id, parent_step_id, root_instance_id, depth,
	       trigger_id, fire_key, reason, started_at, finished_at, created_at
	FROM workflow_instances
`

func (r *InstanceRepo) queryInstances(ctx context.Context, query string, args ...any) ([]domain.WorkflowInstance, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

func scanInstance(row pgx.Row) (*domain.WorkflowInstance, error) {
	var inst domain.WorkflowInstance
	var contextJSON []byte
	var fireKey, reason *string

	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.Version,
		&inst.Status,
		&contextJSON,
		&inst.Priority,
		&inst.Deadline,
		&inst.ParentInstanceID,
		&inst.ParentStepID,
		&inst.RootInstanceID,
		&inst.Depth,
		&inst.TriggerID,
		&fireKey,
		&reason,
		&inst.StartedAt,
		&inst.FinishedAt,
		&inst.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	if fireKey != nil {
		inst.FireKey = *fireKey
	}
	if reason != nil {
		inst.Reason = *reason
	}
	if err := unmarshalMap(contextJSON, &inst.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return &inst, nil
}

// marshalMap сериализует map в JSONB, nil остаётся NULL.
func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// unmarshalMap десериализует JSONB в map, NULL остаётся nil.
func unmarshalMap(data []byte, dst *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
