package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxNestingDepth — потолок вложенности sub-workflow.
// Предотвращает неограниченную рекурсию через SUBWORKFLOW шаги.
const MaxNestingDepth = 10

// WorkflowInstance — экземпляр выполнения definition.
//
// Instance создаётся когда:
// - Trigger Evaluator сматчил событие/расписание/условие
// - Оператор запускает definition вручную (API/CLI)
// - SUBWORKFLOW шаг родительского instance порождает дочерний
//
// Мутируется исключительно Instance Manager'ом и Execution Tracker'ом;
// после терминального статуса становится неизменяемым.
type WorkflowInstance struct {
	// ID — уникальный идентификатор instance.
	ID uuid.UUID `json:"id"`

	// DefinitionID — ссылка на definition.
	DefinitionID uuid.UUID `json:"definition_id"`

	// Version — версия definition, которая выполняется.
	Version int `json:"version"`

	// Status — текущий статус выполнения.
	Status InstanceStatus `json:"status"`

	// Context — общее key/value состояние, видимое всем шагам.
	Context map[string]any `json:"context,omitempty"`

	// Priority — приоритет, наследуемый team tasks этого instance.
	Priority int `json:"priority,omitempty"`

	// Deadline — дедлайн instance. Nil — без дедлайна.
	Deadline *time.Time `json:"deadline,omitempty"`

	// --- Вложенность sub-workflow ---

	// ParentInstanceID — родительский instance, если это sub-workflow.
	ParentInstanceID *uuid.UUID `json:"parent_instance_id,omitempty"`

	// ParentStepID — SUBWORKFLOW шаг родителя, ожидающий этот instance.
	ParentStepID *uuid.UUID `json:"parent_step_id,omitempty"`

	// RootInstanceID — корень дерева sub-workflow (сам instance для корня).
	RootInstanceID uuid.UUID `json:"root_instance_id"`

	// Depth — глубина вложенности: 0 для корня, строго растёт
	// от родителя к ребёнку. Цикл в цепочке родителей запрещён.
	Depth int `json:"depth"`

	// --- Триггер ---

	// TriggerID — триггер, создавший instance (nil для ручных и дочерних).
	TriggerID *uuid.UUID `json:"trigger_id,omitempty"`

	// FireKey — ключ идемпотентности срабатывания триггера.
	// Для schedule: "{trigger_id}_{scheduled_minute_unix}".
	FireKey string `json:"fire_key,omitempty"`

	// Reason — причина терминального перехода. Обязательна: немого
	// отказа не существует.
	Reason string `json:"reason,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время терминального перехода.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания instance.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если instance в терминальном статусе.
func (i *WorkflowInstance) IsFinished() bool {
	return i.Status.IsTerminal()
}

// IsSubworkflow возвращает true, если instance запущен родителем.
func (i *WorkflowInstance) IsSubworkflow() bool {
	return i.ParentInstanceID != nil
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если instance ещё не завершён.
func (i *WorkflowInstance) Duration() time.Duration {
	if i.StartedAt == nil || i.FinishedAt == nil {
		return 0
	}
	return i.FinishedAt.Sub(*i.StartedAt)
}

// DeadlineExpired проверяет, истёк ли дедлайн instance.
func (i *WorkflowInstance) DeadlineExpired(now time.Time) bool {
	return i.Deadline != nil && now.After(*i.Deadline)
}

// MarkRunning переводит instance в статус RUNNING.
func (i *WorkflowInstance) MarkRunning() {
	now := time.Now()
	i.Status = InstanceStatusRunning
	i.StartedAt = &now
}

// MarkPaused переводит instance в статус PAUSED.
func (i *WorkflowInstance) MarkPaused(reason string) {
	i.Status = InstanceStatusPaused
	i.Reason = reason
}

// MarkResumed возвращает instance из PAUSED в RUNNING.
func (i *WorkflowInstance) MarkResumed() {
	i.Status = InstanceStatusRunning
	i.Reason = ""
}

// MarkCompleted переводит instance в статус COMPLETED.
func (i *WorkflowInstance) MarkCompleted() {
	now := time.Now()
	i.Status = InstanceStatusCompleted
	i.FinishedAt = &now
	i.Reason = "all required steps completed"
}

// MarkFailed переводит instance в статус FAILED с причиной.
func (i *WorkflowInstance) MarkFailed(reason string) {
	now := time.Now()
	i.Status = InstanceStatusFailed
	i.FinishedAt = &now
	i.Reason = reason
}

// MarkCancelled переводит instance в статус CANCELLED с причиной.
func (i *WorkflowInstance) MarkCancelled(reason string) {
	now := time.Now()
	i.Status = InstanceStatusCancelled
	i.FinishedAt = &now
	i.Reason = reason
}

// MarkTimedOut переводит instance в статус TIMED_OUT.
func (i *WorkflowInstance) MarkTimedOut() {
	now := time.Now()
	i.Status = InstanceStatusTimedOut
	i.FinishedAt = &now
	i.Reason = "instance deadline exceeded"
}
