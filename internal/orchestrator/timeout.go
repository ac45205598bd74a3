package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/repo"
	"github.com/shaiso/Hive/internal/telemetry"
)

// TimeoutStep обрабатывает шаг с истёкшим дедлайном.
//
// Активный task отменяется, шаг падает по таймауту; таймаут retry
// не расходует. Optional шаг пропускается, обязательный роняет
// instance.
//
// Вызывается sweeper'ом; безопасен для нескольких реплик — из
// конкурентных вызовов переход выполнит одна, остальные проиграют CAS.
func (o *Orchestrator) TimeoutStep(ctx context.Context, stepID uuid.UUID) error {
	step, err := o.steps.GetByID(ctx, stepID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
		}
		return fmt.Errorf("get step: %w", err)
	}
	if step.IsFinished() {
		return nil
	}
	if step.Deadline == nil || time.Now().Before(*step.Deadline) {
		return nil
	}

	inst, err := o.instances.GetByID(ctx, step.InstanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get instance: %w", err)
	}
	if inst.IsFinished() {
		return nil
	}

	taskIDs, err := o.tasks.CancelActiveByStep(ctx, step.ID, "step deadline exceeded")
	if err != nil {
		return fmt.Errorf("cancel step tasks: %w", err)
	}
	var events []domain.AuditEvent
	for _, id := range taskIDs {
		ev := domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditTaskCancelled, "step deadline exceeded")
		taskID := id
		ev.TaskID = &taskID
		events = append(events, ev)
	}
	if err := o.audit.AppendAll(ctx, events); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	o.logger.Warn("step deadline exceeded",
		"instance_id", inst.ID,
		"step_id", step.StepID,
		"deadline", step.Deadline,
	)
	telemetry.SweepTimeouts.WithLabelValues("step").Inc()

	if err := o.failStep(ctx, inst, step, "deadline exceeded", true); err != nil {
		return err
	}

	// Пропуск optional шага мог открыть следующие
	if inst.Status == domain.InstanceStatusRunning {
		return o.ResolvePass(ctx, inst.ID)
	}
	return nil
}

// TimeoutInstance обрабатывает instance с истёкшим дедлайном:
// TIMED_OUT с полным каскадом отмены шагов, tasks и дочерних instances.
func (o *Orchestrator) TimeoutInstance(ctx context.Context, instanceID uuid.UUID) error {
	inst, err := o.instances.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("get instance: %w", err)
	}
	if inst.IsFinished() {
		return nil
	}
	if inst.Deadline == nil || time.Now().Before(*inst.Deadline) {
		return nil
	}

	expected := inst.Status
	inst.MarkTimedOut()
	if err := o.TransitionInstance(ctx, inst, expected, "instance deadline exceeded"); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil
		}
		return err
	}

	if err := o.cancelChildren(ctx, inst, "instance deadline exceeded", 0); err != nil {
		return err
	}

	o.logger.Warn("instance deadline exceeded",
		"instance_id", inst.ID,
		"deadline", inst.Deadline,
	)
	telemetry.SweepTimeouts.WithLabelValues("instance").Inc()

	if inst.IsSubworkflow() {
		if err := o.handleChildFinished(ctx, inst); err != nil {
			o.logger.Error("failed to notify parent of timed out child",
				"instance_id", inst.ID,
				"parent_instance_id", inst.ParentInstanceID,
				"error", err,
			)
		}
	}

	return nil
}
