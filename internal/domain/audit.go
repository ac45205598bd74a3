package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType — тип записи в журнале аудита.
type AuditEventType string

// Типы событий аудита. Одна запись на каждый переход состояния.
const (
	AuditInstanceCreated   AuditEventType = "instance_created"
	AuditInstanceRunning   AuditEventType = "instance_running"
	AuditInstancePaused    AuditEventType = "instance_paused"
	AuditInstanceResumed   AuditEventType = "instance_resumed"
	AuditInstanceCompleted AuditEventType = "instance_completed"
	AuditInstanceFailed    AuditEventType = "instance_failed"
	AuditInstanceCancelled AuditEventType = "instance_cancelled"
	AuditInstanceTimedOut  AuditEventType = "instance_timed_out"

	AuditStepReady     AuditEventType = "step_ready"
	AuditStepRunning   AuditEventType = "step_running"
	AuditStepCompleted AuditEventType = "step_completed"
	AuditStepFailed    AuditEventType = "step_failed"
	AuditStepSkipped   AuditEventType = "step_skipped"
	AuditStepCancelled AuditEventType = "step_cancelled"
	AuditStepTimedOut  AuditEventType = "step_timed_out"
	AuditStepRetried   AuditEventType = "step_retried"

	AuditTaskDispatched AuditEventType = "task_dispatched"
	AuditTaskClaimed    AuditEventType = "task_claimed"
	AuditTaskCompleted  AuditEventType = "task_completed"
	AuditTaskFailed     AuditEventType = "task_failed"
	AuditTaskCancelled  AuditEventType = "task_cancelled"

	AuditTriggerFired AuditEventType = "trigger_fired"
)

// AuditEvent — неизменяемая запись журнала аудита.
//
// Журнал append-only: записи никогда не обновляются и не удаляются.
// Каждый переход состояния durably записывается до того, как считается
// завершённым, поэтому "что произошло и почему" всегда можно
// восстановить без живой памяти процесса.
type AuditEvent struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// InstanceID — instance, к которому относится переход.
	InstanceID uuid.UUID `json:"instance_id"`

	// StepExecutionID — step execution, если переход относится к шагу.
	StepExecutionID *uuid.UUID `json:"step_execution_id,omitempty"`

	// TaskID — team task, если переход относится к task.
	TaskID *uuid.UUID `json:"task_id,omitempty"`

	// Team — команда, связанная с переходом.
	Team string `json:"team,omitempty"`

	// EventType — тип перехода.
	EventType AuditEventType `json:"event_type"`

	// Reason — причина перехода. Обязательна для терминальных.
	Reason string `json:"reason,omitempty"`

	// Payload — дополнительные данные перехода.
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt — время записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewAuditEvent создаёт запись аудита для instance.
func NewAuditEvent(instanceID uuid.UUID, eventType AuditEventType, reason string) AuditEvent {
	return AuditEvent{
		ID:         uuid.New(),
		InstanceID: instanceID,
		EventType:  eventType,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
}

// NewStepAuditEvent создаёт запись аудита для step execution.
func NewStepAuditEvent(instanceID, stepExecID uuid.UUID, eventType AuditEventType, reason string) AuditEvent {
	ev := NewAuditEvent(instanceID, eventType, reason)
	ev.StepExecutionID = &stepExecID
	return ev
}

// NewTaskAuditEvent создаёт запись аудита для team task.
func NewTaskAuditEvent(instanceID, stepExecID, taskID uuid.UUID, team string, eventType AuditEventType, reason string) AuditEvent {
	ev := NewStepAuditEvent(instanceID, stepExecID, eventType, reason)
	ev.TaskID = &taskID
	ev.Team = team
	return ev
}
