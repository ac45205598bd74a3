package trigger

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/engine"
	"github.com/shaiso/Hive/internal/orchestrator"
	"github.com/shaiso/Hive/internal/repo"
	"github.com/shaiso/Hive/internal/telemetry"
)

// Evaluator сопоставляет внешние события с триггерами и создаёт
// instances через Instance Manager.
type Evaluator struct {
	triggers *repo.TriggerRepo
	audit    *repo.AuditRepo
	orch     *orchestrator.Orchestrator
	logger   *slog.Logger
}

// Config — конфигурация Evaluator.
type Config struct {
	Triggers     *repo.TriggerRepo
	Audit        *repo.AuditRepo
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

// New создаёт новый Evaluator.
func New(cfg Config) *Evaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Evaluator{
		triggers: cfg.Triggers,
		audit:    cfg.Audit,
		orch:     cfg.Orchestrator,
		logger:   logger,
	}
}

// SubmitEvent матчит событие против активных EVENT триггеров.
//
// Первый совпавший триггер (по времени создания) создаёт instance;
// без совпадений возвращается ErrNoMatch.
func (e *Evaluator) SubmitEvent(ctx context.Context, event domain.Event) (uuid.UUID, error) {
	triggers, err := e.triggers.ListActiveByType(ctx, domain.TriggerTypeEvent)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list event triggers: %w", err)
	}

	for i := range triggers {
		trig := &triggers[i]
		if !EventMatches(trig, event) {
			continue
		}

		inst, err := e.fire(ctx, trig, event.Payload, "")
		if err != nil {
			return uuid.Nil, err
		}
		return inst.ID, nil
	}

	e.logger.Debug("no trigger matched event", "event_type", event.Type)
	return uuid.Nil, ErrNoMatch
}

// EventMatches проверяет событие против EVENT триггера:
// тип события плюс фильтр-предикат над payload.
func EventMatches(trig *domain.Trigger, event domain.Event) bool {
	if trig.Config.EventType != event.Type {
		return false
	}
	return engine.MatchFilter(trig.Config.Filter, event.Payload)
}

// SubmitWebhook — синхронный вызов WEBHOOK триггера по имени.
// Валидирует auth token и обязательные входы до создания instance.
func (e *Evaluator) SubmitWebhook(ctx context.Context, name, token string, payload map[string]any) (uuid.UUID, error) {
	trig, err := e.lookup(ctx, name, domain.TriggerTypeWebhook)
	if err != nil {
		return uuid.Nil, err
	}

	if trig.Config.AuthToken != "" {
		if subtle.ConstantTimeCompare([]byte(trig.Config.AuthToken), []byte(token)) != 1 {
			return uuid.Nil, ErrUnauthorized
		}
	}

	if err := checkRequiredInputs(trig, payload); err != nil {
		return uuid.Nil, err
	}

	inst, err := e.fire(ctx, trig, payload, "")
	if err != nil {
		return uuid.Nil, err
	}
	return inst.ID, nil
}

// SubmitManual — ручной запуск MANUAL триггера оператором.
func (e *Evaluator) SubmitManual(ctx context.Context, name string, payload map[string]any) (uuid.UUID, error) {
	trig, err := e.lookup(ctx, name, domain.TriggerTypeManual)
	if err != nil {
		return uuid.Nil, err
	}

	if err := checkRequiredInputs(trig, payload); err != nil {
		return uuid.Nil, err
	}

	inst, err := e.fire(ctx, trig, payload, "")
	if err != nil {
		return uuid.Nil, err
	}
	return inst.ID, nil
}

// lookup находит активный триггер по имени и проверяет его тип.
func (e *Evaluator) lookup(ctx context.Context, name string, want domain.TriggerType) (*domain.Trigger, error) {
	trig, err := e.triggers.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTriggerNotFound, name)
		}
		return nil, fmt.Errorf("get trigger: %w", err)
	}
	if trig.Type != want {
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrWrongTriggerType, name, trig.Type, want)
	}
	if !trig.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrTriggerInactive, name)
	}
	return trig, nil
}

// checkRequiredInputs проверяет наличие обязательных входов в payload.
func checkRequiredInputs(trig *domain.Trigger, payload map[string]any) error {
	for _, input := range trig.Config.RequiredInputs {
		if _, ok := payload[input]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingInput, input)
		}
	}
	return nil
}

// fire создаёт instance из сработавшего триггера.
//
// InputMapping рендерится над payload события; без маппинга payload
// попадает в контекст как есть. Непустой fireKey даёт at-most-once
// семантику: повторное срабатывание возвращает repo.ErrAlreadyExists.
func (e *Evaluator) fire(ctx context.Context, trig *domain.Trigger, payload map[string]any, fireKey string) (*domain.WorkflowInstance, error) {
	instCtx := payload
	if len(trig.InputMapping) > 0 {
		rendered, err := engine.RenderMapping(trig.InputMapping, engine.NewMappingContext(payload, nil))
		if err != nil {
			return nil, fmt.Errorf("render input mapping for trigger %s: %w", trig.Name, err)
		}
		instCtx = rendered
	}

	inst, err := e.orch.CreateInstance(ctx, orchestrator.CreateInstanceParams{
		DefinitionID: trig.DefinitionID,
		Context:      instCtx,
		TriggerID:    &trig.ID,
		FireKey:      fireKey,
	})
	if err != nil {
		return nil, err
	}

	if err := e.recordFire(ctx, trig, inst.ID); err != nil {
		return nil, err
	}

	e.logger.Info("trigger fired",
		"trigger_id", trig.ID,
		"trigger_name", trig.Name,
		"type", trig.Type,
		"instance_id", inst.ID,
	)

	return inst, nil
}

// recordFire пишет аудит срабатывания и обновляет состояние триггера.
func (e *Evaluator) recordFire(ctx context.Context, trig *domain.Trigger, instanceID uuid.UUID) error {
	ev := domain.NewAuditEvent(instanceID, domain.AuditTriggerFired, "trigger "+trig.Name)
	if err := e.audit.Append(ctx, ev); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	trig.Fire(time.Now())
	if err := e.triggers.UpdateFireState(ctx, trig); err != nil {
		return fmt.Errorf("update trigger fire state: %w", err)
	}

	telemetry.TriggerFires.WithLabelValues(string(trig.Type)).Inc()
	return nil
}
