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

// DefinitionRepo — репозиторий для работы с workflow definitions.
type DefinitionRepo struct {
	pool *pgxpool.Pool
}

// NewDefinitionRepo создаёт новый DefinitionRepo.
func NewDefinitionRepo(pool *pgxpool.Pool) *DefinitionRepo {
	return &DefinitionRepo{pool: pool}
}

// Create создаёт новое definition.
func (r *DefinitionRepo) Create(ctx context.Context, def *domain.WorkflowDefinition) error {
	query := `
		INSERT INTO workflow_definitions (id, name, category, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		def.ID,
		def.Name,
		nullString(def.Category),
		def.Status,
		def.CreatedAt,
		def.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert definition: %w", err)
	}
	return nil
}

// GetByID возвращает definition по ID.
func (r *DefinitionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT id, name, category, status, created_at, updated_at
		FROM workflow_definitions
		WHERE id = $1
	`
	return scanDefinition(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает definition по имени.
func (r *DefinitionRepo) GetByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT id, name, category, status, created_at, updated_at
		FROM workflow_definitions
		WHERE name = $1
	`
	return scanDefinition(r.pool.QueryRow(ctx, query, name))
}

// List возвращает все definitions.
func (r *DefinitionRepo) List(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	query := `
		SELECT id, name, category, status, created_at, updated_at
		FROM workflow_definitions
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// UpdateStatus переводит definition в новый статус (CAS по текущему).
// Переход DRAFT → ACTIVE делает граф текущей версии неизменяемым.
func (r *DefinitionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.DefinitionStatus) error {
	query := `
		UPDATE workflow_definitions
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("update definition status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// CreateVersion создаёт новую версию definition.
// Номер версии — max(version)+1 в одном statement, чтобы параллельные
// публикации не выдали один номер дважды.
func (r *DefinitionRepo) CreateVersion(ctx context.Context, v *domain.DefinitionVersion) error {
	graphJSON, err := json.Marshal(v.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	query := `
		INSERT INTO definition_versions (definition_id, version, graph, created_at)
		VALUES ($1,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM definition_versions WHERE definition_id = $1),
			$2, $3)
		RETURNING version
	`
	err = r.pool.QueryRow(ctx, query, v.DefinitionID, graphJSON, v.CreatedAt).Scan(&v.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert definition version: %w", err)
	}
	return nil
}

// GetVersion возвращает конкретную версию definition.
func (r *DefinitionRepo) GetVersion(ctx context.Context, definitionID uuid.UUID, version int) (*domain.DefinitionVersion, error) {
	query := `
		SELECT definition_id, version, graph, created_at
		FROM definition_versions
		WHERE definition_id = $1 AND version = $2
	`
	return scanVersion(r.pool.QueryRow(ctx, query, definitionID, version))
}

// GetLatestVersion возвращает последнюю версию definition.
func (r *DefinitionRepo) GetLatestVersion(ctx context.Context, definitionID uuid.UUID) (*domain.DefinitionVersion, error) {
	query := `
		SELECT definition_id, version, graph, created_at
		FROM definition_versions
		WHERE definition_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return scanVersion(r.pool.QueryRow(ctx, query, definitionID))
}

// ListVersions возвращает все версии definition.
func (r *DefinitionRepo) ListVersions(ctx context.Context, definitionID uuid.UUID) ([]domain.DefinitionVersion, error) {
	query := `
		SELECT definition_id, version, graph, created_at
		FROM definition_versions
		WHERE definition_id = $1
		ORDER BY version ASC
	`
	rows, err := r.pool.Query(ctx, query, definitionID)
	if err != nil {
		return nil, fmt.Errorf("list definition versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.DefinitionVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// --- Helpers ---

func scanDefinition(row pgx.Row) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	var category *string

	err := row.Scan(
		&def.ID,
		&def.Name,
		&category,
		&def.Status,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan definition: %w", err)
	}

	if category != nil {
		def.Category = *category
	}
	return &def, nil
}

func scanVersion(row pgx.Row) (*domain.DefinitionVersion, error) {
	var v domain.DefinitionVersion
	var graphJSON []byte

	err := row.Scan(
		&v.DefinitionID,
		&v.Version,
		&graphJSON,
		&v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan definition version: %w", err)
	}

	if err := json.Unmarshal(graphJSON, &v.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return &v, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
