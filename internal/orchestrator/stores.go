package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
)

// Интерфейсы хранилища — срез методов репозиториев, которые использует
// оркестратор. Реализуются internal/repo поверх PostgreSQL; тесты
// подставляют in-memory реализации с той же CAS семантикой.

// DefinitionStore — чтение definitions и их версий.
type DefinitionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error)
	GetByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error)
	GetVersion(ctx context.Context, definitionID uuid.UUID, version int) (*domain.DefinitionVersion, error)
	GetLatestVersion(ctx context.Context, definitionID uuid.UUID) (*domain.DefinitionVersion, error)
}

// InstanceStore — хранилище workflow instances.
// UpdateStatus — CAS по ожидаемому статусу: ErrStaleStatus означает,
// что переход уже выполнен конкурентно.
type InstanceStore interface {
	Create(ctx context.Context, inst *domain.WorkflowInstance) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error)
	UpdateStatus(ctx context.Context, inst *domain.WorkflowInstance, expected domain.InstanceStatus) error
	UpdateContext(ctx context.Context, id uuid.UUID, instContext map[string]any) error
	ListActive(ctx context.Context, limit int) ([]domain.WorkflowInstance, error)
	ListByParent(ctx context.Context, parentID uuid.UUID) ([]domain.WorkflowInstance, error)
}

// StepStore — хранилище step executions.
type StepStore interface {
	CreateForInstance(ctx context.Context, steps []domain.StepExecution) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.StepExecution, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]domain.StepExecution, error)
	UpdateStatus(ctx context.Context, step *domain.StepExecution, expected domain.StepStatus) error
	RecordOutput(ctx context.Context, id uuid.UUID, output map[string]any) error
	CancelNonTerminalByInstance(ctx context.Context, instanceID uuid.UUID, reason string) ([]uuid.UUID, error)
}

// TaskStore — хранилище team tasks. Create обязано поддерживать
// инвариант "не более одного активного task на step execution"
// и возвращать ErrAlreadyExists при его нарушении.
type TaskStore interface {
	Create(ctx context.Context, task *domain.TeamTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TeamTask, error)
	ListByStep(ctx context.Context, stepExecID uuid.UUID) ([]domain.TeamTask, error)
	Claim(ctx context.Context, id uuid.UUID, memberID string) (*domain.TeamTask, error)
	UpdateStatus(ctx context.Context, task *domain.TeamTask, expected domain.TaskStatus) error
	CancelActiveByInstance(ctx context.Context, instanceID uuid.UUID, reason string) ([]uuid.UUID, error)
	CancelActiveByStep(ctx context.Context, stepExecID uuid.UUID, reason string) ([]uuid.UUID, error)
}

// AuditStore — журнал аудита (append-only).
type AuditStore interface {
	Append(ctx context.Context, ev domain.AuditEvent) error
	AppendAll(ctx context.Context, events []domain.AuditEvent) error
}
