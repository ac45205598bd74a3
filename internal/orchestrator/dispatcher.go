package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/mq"
	"github.com/shaiso/Hive/internal/repo"
	"github.com/shaiso/Hive/internal/telemetry"
)

// dispatchOrAdvance решает судьбу READY шага с командной работой.
//
// Если текущая попытка уже отработана (результат пришёл до захвата,
// или оркестратор упал между записью task и продвижением шага) —
// доводит шаг по результату вместо повторного диспатча. Иначе создаёт
// task, выдержав backoff после падения.
func (o *Orchestrator) dispatchOrAdvance(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, spec *domain.StepSpec, allSteps []domain.StepExecution) (bool, error) {
	attempt := step.RetryCount + step.Iteration + 1

	tasks, err := o.tasks.ListByStep(ctx, step.ID)
	if err != nil {
		return false, fmt.Errorf("list step tasks: %w", err)
	}
	if len(tasks) > 0 {
		last := &tasks[len(tasks)-1]
		if last.Status.IsActive() {
			return false, nil
		}
		if last.Attempt == attempt &&
			(last.Status == domain.TaskStatusCompleted || last.Status == domain.TaskStatusFailed) {
			return true, o.processTaskResult(ctx, inst, step, last, spec, allSteps)
		}
		if step.RetryCount > 0 && step.BackoffSec > 0 && last.FinishedAt != nil {
			notBefore := last.FinishedAt.Add(time.Duration(step.BackoffSec) * time.Second)
			if time.Now().Before(notBefore) {
				return false, nil
			}
		}
	}

	return o.dispatchStep(ctx, inst, step)
}

// dispatchStep создаёт TeamTask для шага.
//
// Частичный уникальный индекс в БД гарантирует не более одного
// активного task на шаг: конкурентный диспатч из двух реплик создаст
// ровно один task.
func (o *Orchestrator) dispatchStep(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution) (bool, error) {
	task := newTeamTask(inst, step, step.RetryCount+step.Iteration+1)

	if err := o.tasks.Create(ctx, task); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			// Активный task уже существует
			return false, nil
		}
		return false, fmt.Errorf("create task: %w", err)
	}

	if err := o.audit.Append(ctx, domain.NewTaskAuditEvent(inst.ID, step.ID, task.ID, task.Team, domain.AuditTaskDispatched, "")); err != nil {
		return false, fmt.Errorf("append audit: %w", err)
	}

	telemetry.TasksDispatched.WithLabelValues(task.Team).Inc()

	o.publishTaskDispatched(ctx, task)

	o.logger.Debug("task dispatched",
		"task_id", task.ID,
		"instance_id", inst.ID,
		"step_id", step.StepID,
		"team", task.Team,
		"attempt", task.Attempt,
	)

	return true, nil
}

// newTeamTask строит task из шага: приоритет наследуется от instance,
// дедлайн — минимум из дедлайнов шага и instance, вход — статический
// вход шага плюс снимок контекста.
func newTeamTask(inst *domain.WorkflowInstance, step *domain.StepExecution, attempt int) *domain.TeamTask {
	input := make(map[string]any, len(step.InputData)+1)
	for k, v := range step.InputData {
		input[k] = v
	}
	if inst.Context != nil {
		input["context"] = inst.Context
	}

	return &domain.TeamTask{
		ID:              uuid.New(),
		StepExecutionID: step.ID,
		InstanceID:      inst.ID,
		Team:            step.AssignedTeam,
		Action:          step.Action,
		Attempt:         attempt,
		Priority:        inst.Priority,
		Deadline:        taskDeadline(step.Deadline, inst.Deadline),
		Status:          domain.TaskStatusPending,
		Input:           input,
		CreatedAt:       time.Now(),
	}
}

// taskDeadline возвращает min(дедлайн шага, дедлайн instance).
func taskDeadline(stepDeadline, instanceDeadline *time.Time) *time.Time {
	if stepDeadline == nil {
		return instanceDeadline
	}
	if instanceDeadline == nil || stepDeadline.Before(*instanceDeadline) {
		return stepDeadline
	}
	return instanceDeadline
}

// ClaimTask — оптимистичный захват task участником команды.
//
// CAS PENDING → CLAIMED: из конкурентных захватов выигрывает ровно
// один, проигравший получает ErrAlreadyClaimed и пробует следующий
// pending task. Захват переводит шаг в RUNNING.
func (o *Orchestrator) ClaimTask(ctx context.Context, taskID uuid.UUID, memberID string) (*domain.TeamTask, error) {
	task, err := o.tasks.Claim(ctx, taskID, memberID)
	if err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			if _, getErr := o.tasks.GetByID(ctx, taskID); errors.Is(getErr, repo.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
			}
			telemetry.ClaimConflicts.Inc()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, taskID)
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}

	if err := o.audit.Append(ctx, domain.NewTaskAuditEvent(task.InstanceID, task.StepExecutionID, task.ID, task.Team, domain.AuditTaskClaimed, memberID)); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}

	// Шаг стартует в момент захвата, не в момент диспатча: до захвата
	// работа ещё не началась, и start-to-start зависимые ждать не должны.
	step, err := o.steps.GetByID(ctx, task.StepExecutionID)
	if err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	if step.Status == domain.StepStatusReady {
		inst := &domain.WorkflowInstance{ID: task.InstanceID}
		if err := o.markStepRunning(ctx, inst, step); err != nil {
			return nil, err
		}
	}

	return task, nil
}

// StartTask — подтверждение начала работы (CLAIMED → IN_PROGRESS).
func (o *Orchestrator) StartTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("get task: %w", err)
	}
	if task.Status != domain.TaskStatusClaimed {
		return fmt.Errorf("%w: %s is %s", ErrTaskNotActive, taskID, task.Status)
	}

	task.MarkInProgress()
	if err := o.tasks.UpdateStatus(ctx, task, domain.TaskStatusClaimed); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return fmt.Errorf("%w: %s", ErrTaskNotActive, taskID)
		}
		return fmt.Errorf("start task: %w", err)
	}
	return nil
}

// CompleteTask записывает успешный результат task.
//
// Пишется только task: продвижение шага выполняет оркестратор,
// получив tasks.completed (или подобрав терминальный task поллингом).
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID uuid.UUID, output map[string]any) error {
	return o.finishTask(ctx, taskID, output, "")
}

// FailTask записывает неуспешный результат task.
func (o *Orchestrator) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string) error {
	if errMsg == "" {
		errMsg = "task failed"
	}
	return o.finishTask(ctx, taskID, nil, errMsg)
}

func (o *Orchestrator) finishTask(ctx context.Context, taskID uuid.UUID, output map[string]any, errMsg string) error {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("get task: %w", err)
	}
	if !task.Status.IsActive() {
		return fmt.Errorf("%w: %s is %s", ErrTaskNotActive, taskID, task.Status)
	}

	expected := task.Status
	auditType := domain.AuditTaskCompleted
	if errMsg != "" {
		task.MarkFailed(errMsg)
		auditType = domain.AuditTaskFailed
	} else {
		task.MarkCompleted(output)
	}

	if err := o.tasks.UpdateStatus(ctx, task, expected); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return fmt.Errorf("%w: %s", ErrTaskNotActive, taskID)
		}
		return fmt.Errorf("finish task: %w", err)
	}

	if err := o.audit.Append(ctx, domain.NewTaskAuditEvent(task.InstanceID, task.StepExecutionID, task.ID, task.Team, auditType, task.Error)); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	step, err := o.steps.GetByID(ctx, task.StepExecutionID)
	if err != nil {
		return fmt.Errorf("get step: %w", err)
	}

	o.publishTaskCompleted(ctx, task, step.StepID)

	return nil
}

// processTaskResult продвигает шаг по терминальному task.
//
// Единственный писатель терминального статуса шага. LOOP шаги
// диспатчатся повторно до done=true или исчерпания итераций, APPROVAL
// шаги — до набора нужного числа одобрений.
func (o *Orchestrator) processTaskResult(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, task *domain.TeamTask, spec *domain.StepSpec, allSteps []domain.StepExecution) error {
	// Завершение могло прийти до захвата (polling команды без claim)
	if step.Status == domain.StepStatusReady {
		if err := o.markStepRunning(ctx, inst, step); err != nil {
			return err
		}
	}
	if step.Status != domain.StepStatusRunning {
		return nil
	}

	if task.Status == domain.TaskStatusFailed {
		return o.failStep(ctx, inst, step, task.Error, false)
	}
	if task.Status != domain.TaskStatusCompleted {
		return nil
	}

	switch step.Type {
	case domain.StepTypeLoop:
		return o.advanceLoop(ctx, inst, step, task, spec, allSteps)
	case domain.StepTypeApproval:
		return o.advanceApproval(ctx, inst, step, task, spec, allSteps)
	default:
		return o.completeStep(ctx, inst, step, task.Output, allSteps)
	}
}

// advanceLoop обрабатывает завершение одной итерации LOOP шага.
func (o *Orchestrator) advanceLoop(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, task *domain.TeamTask, spec *domain.StepSpec, allSteps []domain.StepExecution) error {
	step.Iteration++

	done, _ := task.Output["done"].(bool)
	maxIterations := 0
	if spec != nil && spec.Loop != nil {
		maxIterations = spec.Loop.MaxIterations
	}

	if done || (maxIterations > 0 && step.Iteration >= maxIterations) {
		return o.completeStep(ctx, inst, step, task.Output, allSteps)
	}

	if err := o.steps.UpdateStatus(ctx, step, domain.StepStatusRunning); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil
		}
		return fmt.Errorf("advance loop iteration: %w", err)
	}

	_, err := o.dispatchStep(ctx, inst, step)
	return err
}

// advanceApproval обрабатывает завершение одного approval task.
func (o *Orchestrator) advanceApproval(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, task *domain.TeamTask, spec *domain.StepSpec, allSteps []domain.StepExecution) error {
	approved, _ := task.Output["approved"].(bool)
	if !approved {
		return o.failStep(ctx, inst, step, "approval rejected", false)
	}

	step.Approvals++

	minApprovals := 1
	if spec != nil && spec.Approval != nil && spec.Approval.MinApprovals > 0 {
		minApprovals = spec.Approval.MinApprovals
	}

	if step.Approvals >= minApprovals {
		return o.completeStep(ctx, inst, step, map[string]any{"approvals": step.Approvals}, allSteps)
	}

	if err := o.steps.UpdateStatus(ctx, step, domain.StepStatusRunning); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil
		}
		return fmt.Errorf("record approval: %w", err)
	}

	_, err := o.dispatchStep(ctx, inst, step)
	return err
}

// ApproveStep записывает одобрение APPROVAL шага напрямую, минуя task
// протокол (для операторов через API).
func (o *Orchestrator) ApproveStep(ctx context.Context, stepID uuid.UUID, approver string) error {
	step, err := o.steps.GetByID(ctx, stepID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
		}
		return fmt.Errorf("get step: %w", err)
	}
	if step.Type != domain.StepTypeApproval {
		return fmt.Errorf("%w: %s is %s", ErrStepNotApproval, step.StepID, step.Type)
	}
	if step.IsFinished() {
		return fmt.Errorf("%w: step is %s", ErrTaskNotActive, step.Status)
	}

	inst, err := o.instances.GetByID(ctx, step.InstanceID)
	if err != nil {
		return fmt.Errorf("get instance: %w", err)
	}

	if step.Status == domain.StepStatusReady {
		if err := o.markStepRunning(ctx, inst, step); err != nil {
			return err
		}
	}

	expected := step.Status
	step.Approvals++
	if err := o.steps.UpdateStatus(ctx, step, expected); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return fmt.Errorf("%w: concurrent update, retry", ErrTaskNotActive)
		}
		return fmt.Errorf("record approval: %w", err)
	}

	ev := domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditTaskCompleted, "approved by "+approver)
	if err := o.audit.Append(ctx, ev); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	version, err := o.definitions.GetVersion(ctx, inst.DefinitionID, inst.Version)
	if err != nil {
		return fmt.Errorf("get definition version: %w", err)
	}
	spec := indexSpecs(&version.Graph)[step.StepID]

	minApprovals := 1
	if spec != nil && spec.Approval != nil && spec.Approval.MinApprovals > 0 {
		minApprovals = spec.Approval.MinApprovals
	}
	if step.Approvals < minApprovals {
		return nil
	}

	if _, err := o.tasks.CancelActiveByStep(ctx, step.ID, "approved directly"); err != nil {
		return fmt.Errorf("cancel approval tasks: %w", err)
	}

	allSteps, err := o.steps.ListByInstance(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("list steps: %w", err)
	}
	if err := o.completeStep(ctx, inst, step, map[string]any{"approvals": step.Approvals}, allSteps); err != nil {
		return err
	}

	return o.ResolvePass(ctx, inst.ID)
}

// --- MQ publish helpers ---

// Публикация не критична: источник истины — БД, потерянное сообщение
// подбирает polling fallback.

func (o *Orchestrator) publishInstanceCreated(ctx context.Context, instanceID uuid.UUID) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishInstanceCreated(ctx, instanceID); err != nil {
		o.logger.Warn("failed to publish instance.created",
			"instance_id", instanceID,
			"error", err,
		)
	}
}

func (o *Orchestrator) publishTaskDispatched(ctx context.Context, task *domain.TeamTask) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishTaskDispatched(ctx, mq.TaskDispatchedPayload{
		TaskID:     task.ID,
		InstanceID: task.InstanceID,
		Team:       task.Team,
		Action:     task.Action,
		Priority:   task.Priority,
	})
	if err != nil {
		o.logger.Warn("failed to publish task.dispatched",
			"task_id", task.ID,
			"error", err,
		)
	}
}

func (o *Orchestrator) publishTaskCompleted(ctx context.Context, task *domain.TeamTask, stepID string) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishTaskCompleted(ctx, mq.TaskCompletedPayload{
		TaskID:     task.ID,
		InstanceID: task.InstanceID,
		StepID:     stepID,
		Status:     string(task.Status),
		Error:      task.Error,
		Attempt:    task.Attempt,
	})
	if err != nil {
		o.logger.Warn("failed to publish task.completed",
			"task_id", task.ID,
			"error", err,
		)
	}
}
