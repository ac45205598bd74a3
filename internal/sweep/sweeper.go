package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
)

// Default configuration values.
const (
	defaultInterval  = 30 * time.Second
	defaultBatchSize = 100
)

// StepSource отдаёт активные шаги с истёкшим дедлайном.
type StepSource interface {
	ListDeadlineExpired(ctx context.Context, now time.Time, limit int) ([]domain.StepExecution, error)
}

// InstanceSource отдаёт активные instances с истёкшим дедлайном.
type InstanceSource interface {
	ListDeadlineExpired(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowInstance, error)
}

// TimeoutHandler выполняет переходы по истёкшим дедлайнам.
// Реализуется оркестратором.
type TimeoutHandler interface {
	TimeoutStep(ctx context.Context, stepID uuid.UUID) error
	TimeoutInstance(ctx context.Context, instanceID uuid.UUID) error
}

// Sweeper — периодический проход по истёкшим дедлайнам.
//
// Независим от потока событий отдельных instances: даже если
// оркестратор молчит, затянувшийся шаг или instance будет добит.
// Все переходы выполняет оркестратор через CAS, поэтому sweeper
// безопасно запускать в нескольких репликах — дубликат прохода
// проиграет CAS и пройдёт вхолостую.
type Sweeper struct {
	steps     StepSource
	instances InstanceSource
	orch      TimeoutHandler
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// Config — конфигурация Sweeper.
type Config struct {
	Steps        StepSource
	Instances    InstanceSource
	Orchestrator TimeoutHandler
	Logger       *slog.Logger

	// Interval — период прохода (default: 30s).
	Interval time.Duration

	// BatchSize — количество записей за один проход (default: 100).
	BatchSize int
}

// New создаёт новый Sweeper.
func New(cfg Config) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		steps:     cfg.Steps,
		instances: cfg.Instances,
		orch:      cfg.Orchestrator,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run крутит проходы до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("starting sweeper", "interval", s.interval, "batch_size", s.batchSize)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep выполняет один проход: сначала шаги, затем instances.
//
// Порядок важен: истёкший шаг внутри живого instance гасится по
// своей retry/optional политике, и только потом истёкшие instances
// добиваются целиком с каскадом.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now()

	steps, err := s.sweepSteps(ctx, now)
	if err != nil {
		return err
	}
	instances, err := s.sweepInstances(ctx, now)
	if err != nil {
		return err
	}

	if steps > 0 || instances > 0 {
		s.logger.Info("sweep completed",
			"steps_timed_out", steps,
			"instances_timed_out", instances,
		)
	}
	return nil
}

// sweepSteps добивает шаги с истёкшим дедлайном.
// Ошибка одного шага не блокирует остальные.
func (s *Sweeper) sweepSteps(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.steps.ListDeadlineExpired(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired steps: %w", err)
	}

	var processed int
	for i := range expired {
		step := &expired[i]
		if err := s.orch.TimeoutStep(ctx, step.ID); err != nil {
			s.logger.Error("failed to time out step",
				"step_execution_id", step.ID,
				"instance_id", step.InstanceID,
				"step_id", step.StepID,
				"error", err,
			)
			continue
		}
		processed++
	}
	return processed, nil
}

// sweepInstances добивает instances с истёкшим дедлайном.
func (s *Sweeper) sweepInstances(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.instances.ListDeadlineExpired(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired instances: %w", err)
	}

	var processed int
	for i := range expired {
		inst := &expired[i]
		if err := s.orch.TimeoutInstance(ctx, inst.ID); err != nil {
			s.logger.Error("failed to time out instance",
				"instance_id", inst.ID,
				"error", err,
			)
			continue
		}
		processed++
	}
	return processed, nil
}
