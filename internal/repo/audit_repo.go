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

// AuditRepo — репозиторий журнала аудита. Только вставка и чтение:
// журнал append-only, Update/Delete у репозитория нет намеренно.
type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo создаёт новый AuditRepo.
func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Append добавляет запись в журнал.
func (r *AuditRepo) Append(ctx context.Context, ev domain.AuditEvent) error {
	payloadJSON, err := marshalMap(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, instance_id, step_execution_id, task_id, team,
			event_type, reason, payload, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		ev.ID,
		ev.InstanceID,
		nullUUID(ev.StepExecutionID),
		nullUUID(ev.TaskID),
		nullString(ev.Team),
		ev.EventType,
		nullString(ev.Reason),
		payloadJSON,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// AppendAll добавляет несколько записей одной транзакцией.
func (r *AuditRepo) AppendAll(ctx context.Context, events []domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO audit_events (
			id, instance_id, step_execution_id, task_id, team,
			event_type, reason, payload, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, ev := range events {
		payloadJSON, err := marshalMap(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		_, err = tx.Exec(ctx, query,
			ev.ID,
			ev.InstanceID,
			nullUUID(ev.StepExecutionID),
			nullUUID(ev.TaskID),
			nullString(ev.Team),
			ev.EventType,
			nullString(ev.Reason),
			payloadJSON,
			ev.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ListByInstance возвращает журнал instance в хронологическом порядке.
func (r *AuditRepo) ListByInstance(ctx context.Context, instanceID uuid.UUID, limit int) ([]domain.AuditEvent, error) {
	query := `
		SELECT id, instance_id, step_execution_id, task_id, team,
		       event_type, reason, payload, created_at
		FROM audit_events
		WHERE instance_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, instanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func scanAuditEvent(row pgx.Row) (*domain.AuditEvent, error) {
	var ev domain.AuditEvent
	var team, reason *string
	var payloadJSON []byte

	err := row.Scan(
		&ev.ID,
		&ev.InstanceID,
		&ev.StepExecutionID,
		&ev.TaskID,
		&team,
		&ev.EventType,
		&reason,
		&payloadJSON,
		&ev.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit event: %w", err)
	}

	if team != nil {
		ev.Team = *team
	}
	if reason != nil {
		ev.Reason = *reason
	}
	if err := unmarshalMap(payloadJSON, &ev.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &ev, nil
}
