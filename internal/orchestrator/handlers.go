package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/mq"
	"github.com/shaiso/Hive/internal/repo"
)

// handleInstanceCreated обрабатывает событие о новом instance.
func (o *Orchestrator) handleInstanceCreated(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.InstanceCreatedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse instance.created payload", "error", err)
		return err
	}

	o.logger.Debug("received instance.created event", "instance_id", payload.InstanceID)

	if err := o.ResolvePass(ctx, payload.InstanceID); err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			// Создавшая транзакция могла откатиться
			o.logger.Debug("instance not found, skipping", "instance_id", payload.InstanceID)
			return nil
		}
		o.logger.Error("failed to resolve instance",
			"instance_id", payload.InstanceID,
			"error", err,
		)
		return err
	}

	return nil
}

// handleTaskCompleted обрабатывает событие о завершённом task.
func (o *Orchestrator) handleTaskCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskCompletedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse task.completed payload", "error", err)
		return err
	}

	o.logger.Debug("received task.completed event",
		"task_id", payload.TaskID,
		"instance_id", payload.InstanceID,
		"step_id", payload.StepID,
		"status", payload.Status,
	)

	if err := o.processTaskCompleted(ctx, payload); err != nil {
		o.logger.Error("failed to process task completion",
			"task_id", payload.TaskID,
			"instance_id", payload.InstanceID,
			"error", err,
		)
		return err
	}

	return nil
}

// processTaskCompleted продвигает шаг по завершённому task и
// прогоняет resolve pass по instance.
//
// Сообщение — только уведомление: результат читается из БД, а все
// переходы идут через CAS, поэтому дубликат или гонка с поллингом
// безопасны.
func (o *Orchestrator) processTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error {
	task, err := o.tasks.GetByID(ctx, payload.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o.logger.Debug("task not found, skipping", "task_id", payload.TaskID)
			return nil
		}
		return fmt.Errorf("get task: %w", err)
	}
	if !task.IsFinished() {
		// Статус ещё не записан — подберёт поллинг
		return nil
	}

	inst, err := o.instances.GetByID(ctx, task.InstanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get instance: %w", err)
	}
	if inst.IsFinished() {
		o.logger.Debug("instance already finished, skipping",
			"instance_id", inst.ID,
			"task_id", task.ID,
		)
		return nil
	}
	if inst.Status != domain.InstanceStatusRunning {
		// PAUSED instance не продвигается, resolve подхватит после resume
		return nil
	}

	step, err := o.steps.GetByID(ctx, task.StepExecutionID)
	if err != nil {
		return fmt.Errorf("get step: %w", err)
	}

	if !step.IsFinished() {
		version, err := o.definitions.GetVersion(ctx, inst.DefinitionID, inst.Version)
		if err != nil {
			return fmt.Errorf("get definition version: %w", err)
		}
		spec := indexSpecs(&version.Graph)[step.StepID]

		allSteps, err := o.steps.ListByInstance(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}

		if err := o.processTaskResult(ctx, inst, step, task, spec, allSteps); err != nil {
			return err
		}
	}

	return o.ResolvePass(ctx, inst.ID)
}
