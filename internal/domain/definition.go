package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowDefinition — определение рабочего процесса.
//
// Definition — это "шаблон" оркестрации: декларативный граф шагов,
// зависимостей и привязанных триггеров. Одно definition может иметь
// множество версий (DefinitionVersion). Каждый instance выполняет
// конкретную версию.
type WorkflowDefinition struct {
	// ID — уникальный идентификатор definition.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя definition (например, "customer-onboarding").
	Name string `json:"name"`

	// Category — категория для группировки в списках.
	Category string `json:"category,omitempty"`

	// Status — текущий статус. Граф ACTIVE версии неизменяем:
	// изменения требуют новой версии.
	Status DefinitionStatus `json:"status"`

	// CreatedAt — время создания definition.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения статуса.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive возвращает true, если по definition можно создавать instances.
func (d *WorkflowDefinition) IsActive() bool {
	return d.Status == DefinitionStatusActive
}

// DefinitionVersion — версия definition с конкретным графом.
//
// Версии неизменяемы: новая версия — новая строка.
type DefinitionVersion struct {
	// DefinitionID — ссылка на родительское definition.
	DefinitionID uuid.UUID `json:"definition_id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Graph — граф шагов и зависимостей.
	Graph DefinitionGraph `json:"graph"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// DefinitionGraph — содержимое JSONB поля graph.
//
// Это "программа" для Hive: упорядоченный набор спецификаций шагов.
type DefinitionGraph struct {
	// Steps — шаги графа. Порядок фиксируется при создании версии.
	Steps []StepSpec `json:"steps"`

	// TimeoutSec — дедлайн instance в секундах от момента создания.
	// 0 — без дедлайна.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Priority — приоритет по умолчанию для team tasks этого definition.
	Priority int `json:"priority,omitempty"`
}

// StepSpec — спецификация одного шага графа.
//
// Type определяет вариант; каждый вариант несёт только свои поля
// (Loop, Subworkflow, Approval, Condition).
type StepSpec struct {
	// ID — уникальный идентификатор шага в рамках графа.
	// Используется в depends_on и для ссылок на результаты.
	ID string `json:"id"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty"`

	// Type — вариант шага.
	Type StepType `json:"type"`

	// Team — команда-исполнитель (для TASK, LOOP, APPROVAL).
	// Пустая строка — команда вычисляется внешним skill-matcher'ом
	// на стороне диспетчера.
	Team string `json:"team,omitempty"`

	// Action — действие, которое команда должна выполнить
	// (произвольный идентификатор, понятный команде).
	Action string `json:"action,omitempty"`

	// DependsOn — рёбра зависимостей этого шага.
	DependsOn []DependencyEdge `json:"depends_on,omitempty"`

	// Optional — падение шага не роняет instance (шаг становится SKIPPED).
	Optional bool `json:"optional,omitempty"`

	// MaxRetries — сколько раз повторять шаг после падения.
	MaxRetries int `json:"max_retries,omitempty"`

	// BackoffSec — задержка между retry в секундах.
	BackoffSec int `json:"backoff_sec,omitempty"`

	// TimeoutSec — дедлайн шага в секундах от момента READY.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Input — статический вход шага (дополняется контекстом instance).
	Input map[string]any `json:"input,omitempty"`

	// Condition — выражение над контекстом (только для CONDITION).
	// Go template, возвращающий "true"/"false".
	Condition string `json:"condition,omitempty"`

	// Loop — параметры цикла (только для LOOP).
	Loop *LoopSpec `json:"loop,omitempty"`

	// Subworkflow — параметры дочернего workflow (только для SUBWORKFLOW).
	Subworkflow *SubworkflowSpec `json:"subworkflow,omitempty"`

	// Approval — параметры одобрения (только для APPROVAL).
	Approval *ApprovalSpec `json:"approval,omitempty"`
}

// DependencyEdge — ребро зависимости между шагами.
type DependencyEdge struct {
	// OnStep — ID шага-предшественника.
	OnStep string `json:"on_step"`

	// Type — тип временно́й связи. Пустое значение = FINISH_TO_START.
	Type DependencyType `json:"type,omitempty"`

	// NonBlocking — ребро не участвует в проверке готовности,
	// только в отчётности. Нулевое значение = блокирующее ребро.
	NonBlocking bool `json:"non_blocking,omitempty"`
}

// EffectiveType возвращает тип ребра с учётом значения по умолчанию.
func (e DependencyEdge) EffectiveType() DependencyType {
	if e.Type == "" {
		return DepFinishToStart
	}
	return e.Type
}

// IsBlocking возвращает true, если ребро участвует в проверке готовности.
func (e DependencyEdge) IsBlocking() bool {
	return !e.NonBlocking
}

// LoopSpec — параметры LOOP шага.
//
// Цикл диспатчит task команде повторно, пока команда не вернёт
// done=true или не исчерпается MaxIterations.
type LoopSpec struct {
	// MaxIterations — жёсткий предел итераций.
	MaxIterations int `json:"max_iterations"`
}

// SubworkflowSpec — параметры SUBWORKFLOW шага.
type SubworkflowSpec struct {
	// Definition — имя дочернего definition (берётся его ACTIVE версия).
	Definition string `json:"definition"`

	// InputMapping — маппинг контекста родителя во вход дочернего
	// instance. Ключ — имя входа, значение — Go template над контекстом.
	InputMapping map[string]string `json:"input_mapping,omitempty"`
}

// ApprovalSpec — параметры APPROVAL шага.
type ApprovalSpec struct {
	// MinApprovals — сколько одобрений нужно для завершения шага.
	MinApprovals int `json:"min_approvals"`
}
