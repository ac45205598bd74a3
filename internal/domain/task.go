package domain

import (
	"time"

	"github.com/google/uuid"
)

// TeamTask — одна попытка диспатча step execution команде.
//
// Команда ("team") — любой внешний исполнитель, который опрашивает
// свою очередь, захватывает task и сообщает результат. На один
// step execution одновременно существует не более одного активного
// task (PENDING/CLAIMED/IN_PROGRESS) — гарантия отсутствия
// двойного диспатча, закреплённая частичным уникальным индексом в БД.
type TeamTask struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// StepExecutionID — ссылка на step execution.
	StepExecutionID uuid.UUID `json:"step_execution_id"`

	// InstanceID — ссылка на instance (денормализация для каскадов).
	InstanceID uuid.UUID `json:"instance_id"`

	// Team — команда-адресат.
	Team string `json:"team"`

	// Action — действие для команды.
	Action string `json:"action,omitempty"`

	// Attempt — номер попытки шага (1 + retry_count на момент диспатча).
	Attempt int `json:"attempt"`

	// Priority — приоритет, унаследованный от instance.
	// Большее значение — раньше в очереди.
	Priority int `json:"priority"`

	// Deadline — min(дедлайн шага, дедлайн instance).
	Deadline *time.Time `json:"deadline,omitempty"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// ClaimedBy — участник команды, захвативший task.
	ClaimedBy string `json:"claimed_by,omitempty"`

	// Input — вход для команды.
	Input map[string]any `json:"input,omitempty"`

	// Output — результат, записанный командой при завершении.
	Output map[string]any `json:"output,omitempty"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// CreatedAt — время диспатча.
	CreatedAt time.Time `json:"created_at"`

	// ClaimedAt — время захвата.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IsFinished возвращает true, если task в терминальном статусе.
func (t *TeamTask) IsFinished() bool {
	return t.Status.IsTerminal()
}

// MarkClaimed фиксирует захват task участником команды.
func (t *TeamTask) MarkClaimed(memberID string) {
	now := time.Now()
	t.Status = TaskStatusClaimed
	t.ClaimedBy = memberID
	t.ClaimedAt = &now
}

// MarkInProgress фиксирует подтверждение начала работы.
func (t *TeamTask) MarkInProgress() {
	t.Status = TaskStatusInProgress
}

// MarkCompleted переводит task в COMPLETED с результатом.
func (t *TeamTask) MarkCompleted(output map[string]any) {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.FinishedAt = &now
	if output == nil {
		output = make(map[string]any)
	}
	t.Output = output
}

// MarkFailed переводит task в FAILED с ошибкой.
func (t *TeamTask) MarkFailed(errMsg string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.FinishedAt = &now
	t.Error = errMsg
}

// MarkCancelled переводит task в CANCELLED.
func (t *TeamTask) MarkCancelled(reason string) {
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.FinishedAt = &now
	t.Error = reason
}
