package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/repo"
)

// cronParser — парсер cron-выражений (минуты часы дни месяцы дни_недели).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler обрабатывает SCHEDULE триггеры на фиксированном тике.
//
// Каждую минуту проверяет cron-выражения активных триггеров. Fire key
// "{trigger_id}_{scheduled_minute_unix}" закреплён уникальным индексом
// в БД, поэтому при нескольких репликах или clock skew тик срабатывает
// не более одного раза.
type Scheduler struct {
	evaluator *Evaluator
	logger    *slog.Logger
	interval  time.Duration
}

// NewScheduler создаёт Scheduler поверх Evaluator.
func NewScheduler(evaluator *Evaluator, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		evaluator: evaluator,
		logger:    logger,
		interval:  time.Minute,
	}
}

// Run крутит тики до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.Tick(ctx, time.Now()); err != nil {
		s.logger.Error("scheduler tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := s.Tick(ctx, now); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick выполняет один тик: находит триггеры, чьё cron-выражение
// совпало с текущей минутой, и создаёт instances.
//
// Ошибка одного триггера не блокирует остальные.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	minute := now.UTC().Truncate(time.Minute)

	triggers, err := s.evaluator.triggers.ListActiveByType(ctx, domain.TriggerTypeSchedule)
	if err != nil {
		return fmt.Errorf("list schedule triggers: %w", err)
	}

	var fired int
	for i := range triggers {
		trig := &triggers[i]

		due, err := DueAtMinute(trig.Config.CronExpr, trig.Config.Timezone, minute)
		if err != nil {
			s.logger.Error("invalid cron expression, skipping trigger",
				"trigger_id", trig.ID,
				"trigger_name", trig.Name,
				"cron", trig.Config.CronExpr,
				"error", err,
			)
			continue
		}
		if !due {
			continue
		}

		_, err = s.evaluator.fire(ctx, trig, nil, FireKey(trig.ID, minute))
		if err != nil {
			if errors.Is(err, repo.ErrAlreadyExists) {
				// Другая реплика уже сработала на этой минуте
				s.logger.Debug("tick already fired",
					"trigger_id", trig.ID,
					"minute", minute,
				)
				continue
			}
			s.logger.Error("failed to fire schedule trigger",
				"trigger_id", trig.ID,
				"trigger_name", trig.Name,
				"error", err,
			)
			continue
		}
		fired++
	}

	if fired > 0 {
		s.logger.Info("scheduler tick completed",
			"minute", minute,
			"triggers", len(triggers),
			"fired", fired,
		)
	}

	return nil
}

// FireKey — идемпотентный ключ срабатывания на конкретной минуте.
func FireKey(triggerID uuid.UUID, minute time.Time) string {
	return fmt.Sprintf("%s_%d", triggerID, minute.Unix())
}

// DueAtMinute проверяет, попадает ли минута в cron-выражение.
// Timezone триггера учитывается; пустой или битый — UTC.
func DueAtMinute(cronExpr, timezone string, minute time.Time) (bool, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return false, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}

	local := minute.In(loc)
	return sched.Next(local.Add(-time.Second)).Equal(local), nil
}

// ValidateCronExpr проверяет cron-выражение (вызывается из API
// при создании SCHEDULE триггера).
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}
