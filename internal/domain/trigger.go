package domain

import (
	"time"

	"github.com/google/uuid"
)

// Trigger — правило создания instances из событий, расписаний,
// условий, webhooks или ручных запусков.
//
// Триггер привязан к definition; при срабатывании Trigger Evaluator
// рендерит InputMapping и вызывает Instance Manager.
type Trigger struct {
	// ID — уникальный идентификатор триггера.
	ID uuid.UUID `json:"id"`

	// DefinitionID — definition, которое запускает триггер.
	DefinitionID uuid.UUID `json:"definition_id"`

	// Name — уникальное имя триггера (используется в webhook URL).
	Name string `json:"name"`

	// Type — тип триггера.
	Type TriggerType `json:"type"`

	// Config — конфигурация (поля зависят от типа).
	Config TriggerConfig `json:"config"`

	// InputMapping — маппинг payload события в контекст instance.
	// Ключ — имя входа, значение — Go template над payload.
	InputMapping map[string]string `json:"input_mapping,omitempty"`

	// IsActive — флаг активности. Неактивные триггеры не срабатывают.
	IsActive bool `json:"is_active"`

	// --- Состояние condition-триггера ---

	// Armed — триггер "взведён": может сработать при пересечении порога.
	// После срабатывания сбрасывается; взводится обратно, когда метрика
	// хотя бы раз вернулась под порог (гистерезис против шторма).
	Armed bool `json:"armed"`

	// LastFiredAt — время последнего срабатывания.
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`

	// CreatedAt — время создания триггера.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerConfig — конфигурация триггера (содержимое JSONB поля config).
type TriggerConfig struct {
	// EventType — тип события для EVENT триггеров.
	EventType string `json:"event_type,omitempty"`

	// Filter — предикат над payload события: поле → ожидаемое значение.
	// Поля с точками трактуются как пути ("order.status").
	Filter map[string]any `json:"filter,omitempty"`

	// CronExpr — cron-выражение для SCHEDULE триггеров.
	// Формат: "минуты часы дни месяцы дни_недели".
	CronExpr string `json:"cron_expr,omitempty"`

	// Timezone — часовой пояс для cron. По умолчанию UTC.
	Timezone string `json:"timezone,omitempty"`

	// Source — идентификатор источника данных для CONDITION триггеров.
	Source string `json:"source,omitempty"`

	// Operator — оператор сравнения: ">", ">=", "<", "<=".
	Operator string `json:"operator,omitempty"`

	// Threshold — порог для CONDITION триггеров.
	Threshold float64 `json:"threshold,omitempty"`

	// AuthToken — токен для WEBHOOK триггеров.
	AuthToken string `json:"auth_token,omitempty"`

	// RequiredInputs — обязательные входы для WEBHOOK/MANUAL триггеров.
	RequiredInputs []string `json:"required_inputs,omitempty"`
}

// Event — входящее внешнее событие для EVENT триггеров.
type Event struct {
	// Type — тип события (матчится с TriggerConfig.EventType).
	Type string `json:"type"`

	// Payload — произвольные данные события.
	Payload map[string]any `json:"payload,omitempty"`
}

// Fire фиксирует срабатывание триггера.
func (t *Trigger) Fire(now time.Time) {
	t.Armed = false
	t.LastFiredAt = &now
	t.UpdatedAt = now
}

// Rearm взводит condition-триггер обратно (метрика вернулась под порог).
func (t *Trigger) Rearm(now time.Time) {
	t.Armed = true
	t.UpdatedAt = now
}
