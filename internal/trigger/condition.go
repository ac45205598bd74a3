package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/engine"
)

// SourceFunc читает текущее значение метрики внешнего источника.
// Источник идентифицируется строкой из TriggerConfig.Source.
type SourceFunc func(ctx context.Context, source string) (float64, error)

// Monitor периодически вычисляет CONDITION триггеры против внешнего
// источника данных.
//
// Гистерезис против шторма: сработавший триггер разоружается и не
// срабатывает снова, пока метрика хотя бы раз не вернётся под порог.
type Monitor struct {
	evaluator *Evaluator
	source    SourceFunc
	logger    *slog.Logger
	interval  time.Duration
}

// NewMonitor создаёт Monitor поверх Evaluator.
func NewMonitor(evaluator *Evaluator, source SourceFunc, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		evaluator: evaluator,
		source:    source,
		logger:    logger,
		interval:  interval,
	}
}

// Run крутит проверки до отмены контекста.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if err := m.Check(ctx); err != nil {
		m.logger.Error("condition check failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Check(ctx); err != nil {
				m.logger.Error("condition check failed", "error", err)
			}
		}
	}
}

// Check выполняет один проход по CONDITION триггерам.
func (m *Monitor) Check(ctx context.Context) error {
	triggers, err := m.evaluator.triggers.ListActiveByType(ctx, domain.TriggerTypeCondition)
	if err != nil {
		return fmt.Errorf("list condition triggers: %w", err)
	}

	for i := range triggers {
		if err := m.checkTrigger(ctx, &triggers[i]); err != nil {
			m.logger.Error("failed to check condition trigger",
				"trigger_id", triggers[i].ID,
				"trigger_name", triggers[i].Name,
				"error", err,
			)
		}
	}
	return nil
}

func (m *Monitor) checkTrigger(ctx context.Context, trig *domain.Trigger) error {
	value, err := m.source(ctx, trig.Config.Source)
	if err != nil {
		return fmt.Errorf("read source %q: %w", trig.Config.Source, err)
	}

	crossed, err := engine.CompareThreshold(value, trig.Config.Threshold, trig.Config.Operator)
	if err != nil {
		return err
	}

	switch {
	case crossed && trig.Armed:
		payload := map[string]any{
			"source":    trig.Config.Source,
			"value":     value,
			"threshold": trig.Config.Threshold,
			"operator":  trig.Config.Operator,
		}
		// fire записывает Armed=false через UpdateFireState
		if _, err := m.evaluator.fire(ctx, trig, payload, ""); err != nil {
			return err
		}
		m.logger.Info("condition trigger fired",
			"trigger_name", trig.Name,
			"value", value,
			"threshold", trig.Config.Threshold,
		)

	case !crossed && !trig.Armed:
		// Метрика вернулась под порог — взводим обратно
		trig.Rearm(time.Now())
		if err := m.evaluator.triggers.UpdateFireState(ctx, trig); err != nil {
			return fmt.Errorf("rearm trigger: %w", err)
		}
		m.logger.Debug("condition trigger rearmed",
			"trigger_name", trig.Name,
			"value", value,
		)
	}

	return nil
}
