package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepExecution — запись о прогрессе одного узла графа внутри instance.
//
// StepExecutions материализуются Instance Manager'ом при создании
// instance — по одной строке на каждый узел графа. DependsOn копируется
// из definition в этот момент, поэтому более поздние правки definition
// никогда не влияют на запущенные instances.
type StepExecution struct {
	// ID — уникальный идентификатор step execution.
	ID uuid.UUID `json:"id"`

	// InstanceID — ссылка на родительский instance.
	InstanceID uuid.UUID `json:"instance_id"`

	// StepID — ID узла из DefinitionGraph (соответствует StepSpec.ID).
	StepID string `json:"step_id"`

	// Name — имя шага (копия StepSpec.Name).
	Name string `json:"name,omitempty"`

	// Type — вариант шага.
	Type StepType `json:"type"`

	// Status — текущий статус.
	Status StepStatus `json:"status"`

	// AssignedTeam — команда-исполнитель.
	AssignedTeam string `json:"assigned_team,omitempty"`

	// Action — действие для команды (копия StepSpec.Action).
	Action string `json:"action,omitempty"`

	// DependsOn — рёбра зависимостей, материализованные при создании.
	DependsOn []DependencyEdge `json:"depends_on,omitempty"`

	// Optional — падение шага не роняет instance.
	Optional bool `json:"optional,omitempty"`

	// RetryCount — сколько retry уже израсходовано.
	RetryCount int `json:"retry_count"`

	// MaxRetries — предел retry из definition.
	MaxRetries int `json:"max_retries"`

	// BackoffSec — задержка между retry в секундах.
	BackoffSec int `json:"backoff_sec,omitempty"`

	// Iteration — номер текущей итерации (для LOOP шагов).
	Iteration int `json:"iteration,omitempty"`

	// Approvals — сколько одобрений получено (для APPROVAL шагов).
	Approvals int `json:"approvals,omitempty"`

	// InputData — вход шага (статический вход + контекст instance).
	InputData map[string]any `json:"input_data,omitempty"`

	// OutputData — результат шага. Ненулевое значение при статусе
	// RUNNING означает, что работа выполнена, но завершение удерживается
	// finish-to-finish / start-to-finish зависимостью.
	OutputData map[string]any `json:"output_data,omitempty"`

	// ChildInstanceID — дочерний instance (для SUBWORKFLOW шагов).
	ChildInstanceID *uuid.UUID `json:"child_instance_id,omitempty"`

	// Deadline — дедлайн шага. Вычисляется при переходе в READY.
	Deadline *time.Time `json:"deadline,omitempty"`

	// Error — текст последней ошибки.
	Error string `json:"error,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время терминального перехода.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время материализации.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если шаг в терминальном статусе.
func (s *StepExecution) IsFinished() bool {
	return s.Status.IsTerminal()
}

// HasBlockingDeps возвращает true, если у шага есть блокирующие рёбра,
// ограничивающие старт.
func (s *StepExecution) HasBlockingDeps() bool {
	for _, e := range s.DependsOn {
		if e.IsBlocking() && e.EffectiveType().GatesStart() {
			return true
		}
	}
	return false
}

// CanRetry проверяет, остались ли retry.
func (s *StepExecution) CanRetry() bool {
	return s.RetryCount < s.MaxRetries
}

// Duration возвращает продолжительность выполнения.
func (s *StepExecution) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// DeadlineExpired проверяет, истёк ли дедлайн шага.
func (s *StepExecution) DeadlineExpired(now time.Time) bool {
	return s.Deadline != nil && now.After(*s.Deadline)
}

// MarkReady переводит шаг в READY и вычисляет дедлайн.
// instanceDeadline учитывается как верхняя граница.
func (s *StepExecution) MarkReady(timeoutSec int, instanceDeadline *time.Time) {
	s.Status = StepStatusReady

	if timeoutSec > 0 {
		d := time.Now().Add(time.Duration(timeoutSec) * time.Second)
		s.Deadline = &d
	}
	if instanceDeadline != nil && (s.Deadline == nil || instanceDeadline.Before(*s.Deadline)) {
		s.Deadline = instanceDeadline
	}
}

// MarkRunning переводит шаг в RUNNING.
func (s *StepExecution) MarkRunning() {
	now := time.Now()
	s.Status = StepStatusRunning
	s.StartedAt = &now
}

// MarkCompleted переводит шаг в COMPLETED с результатом.
func (s *StepExecution) MarkCompleted(output map[string]any) {
	now := time.Now()
	s.Status = StepStatusCompleted
	s.FinishedAt = &now
	if output == nil {
		output = make(map[string]any)
	}
	s.OutputData = output
	s.Error = ""
}

// MarkFailed переводит шаг в FAILED с ошибкой.
func (s *StepExecution) MarkFailed(errMsg string) {
	now := time.Now()
	s.Status = StepStatusFailed
	s.FinishedAt = &now
	s.Error = errMsg
}

// MarkSkipped переводит шаг в SKIPPED.
func (s *StepExecution) MarkSkipped(reason string) {
	now := time.Now()
	s.Status = StepStatusSkipped
	s.FinishedAt = &now
	s.Error = reason
}

// MarkCancelled переводит шаг в CANCELLED.
func (s *StepExecution) MarkCancelled(reason string) {
	now := time.Now()
	s.Status = StepStatusCancelled
	s.FinishedAt = &now
	s.Error = reason
}

// MarkTimedOut переводит шаг в TIMED_OUT.
func (s *StepExecution) MarkTimedOut() {
	now := time.Now()
	s.Status = StepStatusTimedOut
	s.FinishedAt = &now
	s.Error = "step deadline exceeded"
}

// ResetForRetry подготавливает шаг к повторной попытке:
// расходует один retry и возвращает шаг в READY.
func (s *StepExecution) ResetForRetry() {
	s.RetryCount++
	s.Status = StepStatusReady
	s.StartedAt = nil
	s.FinishedAt = nil
	s.Error = ""
}
