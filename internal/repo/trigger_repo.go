package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Hive/internal/domain"
)

// TriggerRepo — репозиторий для работы с триггерами.
type TriggerRepo struct {
	pool *pgxpool.Pool
}

// NewTriggerRepo создаёт новый TriggerRepo.
func NewTriggerRepo(pool *pgxpool.Pool) *TriggerRepo {
	return &TriggerRepo{pool: pool}
}

// Create создаёт новый триггер.
func (r *TriggerRepo) Create(ctx context.Context, trig *domain.Trigger) error {
	configJSON, err := json.Marshal(trig.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	mappingJSON, err := marshalStringMap(trig.InputMapping)
	if err != nil {
		return fmt.Errorf("marshal input_mapping: %w", err)
	}

	query := `
		INSERT INTO triggers (
			id, definition_id, name, type, config, input_mapping,
			is_active, armed, last_fired_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		trig.ID,
		trig.DefinitionID,
		trig.Name,
		trig.Type,
		configJSON,
		mappingJSON,
		trig.IsActive,
		trig.Armed,
		trig.LastFiredAt,
		trig.CreatedAt,
		trig.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

// GetByID возвращает триггер по ID.
func (r *TriggerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Trigger, error) {
	query := selectTrigger + ` WHERE id = $1`
	return scanTrigger(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает триггер по имени (webhook URL использует имя).
func (r *TriggerRepo) GetByName(ctx context.Context, name string) (*domain.Trigger, error) {
	query := selectTrigger + ` WHERE name = $1`
	return scanTrigger(r.pool.QueryRow(ctx, query, name))
}

// ListActiveByType возвращает активные триггеры указанного типа.
func (r *TriggerRepo) ListActiveByType(ctx context.Context, triggerType domain.TriggerType) ([]domain.Trigger, error) {
	query := selectTrigger + `
		WHERE type = $1 AND is_active
		ORDER BY created_at ASC
	`
	return r.queryTriggers(ctx, query, triggerType)
}

// ListByDefinition возвращает триггеры одного definition.
func (r *TriggerRepo) ListByDefinition(ctx context.Context, definitionID uuid.UUID) ([]domain.Trigger, error) {
	query := selectTrigger + `
		WHERE definition_id = $1
		ORDER BY created_at ASC
	`
	return r.queryTriggers(ctx, query, definitionID)
}

// SetActive включает или выключает триггер.
func (r *TriggerRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE triggers SET is_active = $2, updated_at = now() WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("set trigger active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFireState записывает состояние срабатывания (armed, last_fired_at).
func (r *TriggerRepo) UpdateFireState(ctx context.Context, trig *domain.Trigger) error {
	query := `
		UPDATE triggers
		SET armed = $2, last_fired_at = $3, updated_at = $4
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, trig.ID, trig.Armed, trig.LastFiredAt, trig.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update trigger fire state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет триггер.
func (r *TriggerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

const selectTrigger = `
	SELECT id, definition_id, name, type, config, input_mapping,
	       is_active, armed, last_fired_at, created_at, updated_at
	FROM triggers
`

func (r *TriggerRepo) queryTriggers(ctx context.Context, query string, args ...any) ([]domain.Trigger, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []domain.Trigger
	for rows.Next() {
		trig, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, *trig)
	}
	return triggers, rows.Err()
}

func scanTrigger(row pgx.Row) (*domain.Trigger, error) {
	var trig domain.Trigger
	var configJSON, mappingJSON []byte

	err := row.Scan(
		&trig.ID,
		&trig.DefinitionID,
		&trig.Name,
		&trig.Type,
		&configJSON,
		&mappingJSON,
		&trig.IsActive,
		&trig.Armed,
		&trig.LastFiredAt,
		&trig.CreatedAt,
		&trig.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trigger: %w", err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &trig.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &trig.InputMapping); err != nil {
			return nil, fmt.Errorf("unmarshal input_mapping: %w", err)
		}
	}
	return &trig, nil
}

// marshalStringMap сериализует map[string]string в JSONB, nil — NULL.
func marshalStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
