package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/engine"
	"github.com/shaiso/Hive/internal/repo"
	"github.com/shaiso/Hive/internal/telemetry"
)

// ResolvePass — один проход резолвера по instance.
//
// Проход stateless и спекулятивный: он читает текущие строки шагов,
// вычисляет кандидатов через engine.Resolve / engine.ResolveCompletions
// и применяет каждый переход отдельной CAS записью. Проигранный CAS —
// не ошибка: другая реплика сделала ту же работу.
//
// Повторяется до неподвижной точки (завершение шага может открыть
// следующие), затем сводит итог instance через engine.ComputeOutcome.
func (o *Orchestrator) ResolvePass(ctx context.Context, instanceID uuid.UUID) error {
	start := time.Now()
	defer func() {
		telemetry.ResolvePassDuration.Observe(time.Since(start).Seconds())
	}()

	inst, err := o.instances.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("get instance: %w", err)
	}

	// Crash recovery: instance, застрявший в INITIALIZING
	// (оркестратор упал между созданием и запуском).
	if inst.Status == domain.InstanceStatusInitializing {
		inst.MarkRunning()
		err := o.instances.UpdateStatus(ctx, inst, domain.InstanceStatusInitializing)
		if err != nil && !errors.Is(err, repo.ErrStaleStatus) {
			return fmt.Errorf("recover initializing instance: %w", err)
		}
		if err == nil {
			if err := o.audit.Append(ctx, domain.NewAuditEvent(inst.ID, domain.AuditInstanceRunning, "")); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
		}
	}

	if inst.Status != domain.InstanceStatusRunning {
		return nil
	}

	version, err := o.definitions.GetVersion(ctx, inst.DefinitionID, inst.Version)
	if err != nil {
		return fmt.Errorf("get definition version: %w", err)
	}
	specs := indexSpecs(&version.Graph)

	var steps []domain.StepExecution

	// Верхняя граница итераций: длиннейшая цепочка не длиннее числа шагов.
	for round := 0; round <= len(version.Graph.Steps); round++ {
		steps, err = o.steps.ListByInstance(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}

		progress := false

		// 1. Шаги, чьё завершение удерживали finish-gating рёбра.
		for _, id := range engine.ResolveCompletions(steps) {
			step := findStep(steps, id)
			if step == nil {
				continue
			}
			if err := o.completeStep(ctx, inst, step, step.OutputData, steps); err != nil {
				return err
			}
			progress = true
		}

		// 2. PENDING шаги с удовлетворёнными зависимостями.
		for _, id := range engine.Resolve(steps) {
			step := findStep(steps, id)
			if step == nil {
				continue
			}
			spec := specs[step.StepID]
			step.MarkReady(specTimeout(spec), inst.Deadline)
			if err := o.steps.UpdateStatus(ctx, step, domain.StepStatusPending); err != nil {
				if errors.Is(err, repo.ErrStaleStatus) {
					continue
				}
				return fmt.Errorf("mark step ready: %w", err)
			}
			if err := o.audit.Append(ctx, domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditStepReady, "")); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
			progress = true
		}

		// 3. Старт READY шагов и разбор застрявших RUNNING.
		steps, err = o.steps.ListByInstance(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}
		started, err := o.advanceSteps(ctx, inst, steps, specs)
		if err != nil {
			return err
		}
		progress = progress || started

		if !progress {
			break
		}
	}

	steps, err = o.steps.ListByInstance(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("list steps: %w", err)
	}

	switch engine.ComputeOutcome(steps) {
	case engine.OutcomeFailed:
		reason := failureReason(steps)
		return o.failInstance(ctx, inst, reason)
	case engine.OutcomeCompleted:
		return o.completeInstance(ctx, inst)
	}
	return nil
}

// advanceSteps стартует READY шаги и доводит застрявшие RUNNING и
// FAILED: полный разбор по вариантам шага. Возвращает true, если был
// прогресс.
func (o *Orchestrator) advanceSteps(ctx context.Context, inst *domain.WorkflowInstance, steps []domain.StepExecution, specs map[string]*domain.StepSpec) (bool, error) {
	progress := false

	for i := range steps {
		step := &steps[i]
		spec := specs[step.StepID]
		if spec == nil {
			continue
		}

		switch step.Status {
		case domain.StepStatusReady:
			moved, err := o.startStep(ctx, inst, step, spec, steps)
			if err != nil {
				return progress, err
			}
			progress = progress || moved

		case domain.StepStatusRunning:
			moved, err := o.recoverRunningStep(ctx, inst, step, spec, steps)
			if err != nil {
				return progress, err
			}
			progress = progress || moved

		case domain.StepStatusFailed:
			// Шаг, застрявший между двумя CAS записями failStep:
			// падение зафиксировано, сброс в READY не состоялся.
			moved, err := o.retryFailedStep(ctx, inst, step, specTimeout(spec))
			if err != nil {
				return progress, err
			}
			progress = progress || moved
		}
	}

	return progress, nil
}

// startStep запускает READY шаг согласно его варианту.
func (o *Orchestrator) startStep(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, spec *domain.StepSpec, allSteps []domain.StepExecution) (bool, error) {
	switch step.Type {
	case domain.StepTypeTask, domain.StepTypeLoop, domain.StepTypeApproval:
		return o.dispatchOrAdvance(ctx, inst, step, spec, allSteps)

	case domain.StepTypeParallel, domain.StepTypeSequence:
		// Структурные контейнеры: работы нет, завершаются сразу.
		if err := o.markStepRunning(ctx, inst, step); err != nil {
			return false, err
		}
		return true, o.completeStep(ctx, inst, step, map[string]any{}, allSteps)

	case domain.StepTypeCondition:
		return o.evaluateCondition(ctx, inst, step, spec, allSteps)

	case domain.StepTypeSubworkflow:
		if err := o.markStepRunning(ctx, inst, step); err != nil {
			return false, err
		}
		return true, o.spawnSubworkflow(ctx, inst, step, spec)
	}

	return false, nil
}

// recoverRunningStep доводит RUNNING шаг, застрявший между переходами:
// потерянное MQ сообщение, упавший оркестратор.
func (o *Orchestrator) recoverRunningStep(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, spec *domain.StepSpec, allSteps []domain.StepExecution) (bool, error) {
	// Результат уже записан — завершение разблокирует ResolveCompletions.
	if step.OutputData != nil {
		return false, nil
	}

	switch step.Type {
	case domain.StepTypeTask, domain.StepTypeLoop, domain.StepTypeApproval:
		// Терминальный task без обработанного результата.
		tasks, err := o.tasks.ListByStep(ctx, step.ID)
		if err != nil {
			return false, fmt.Errorf("list step tasks: %w", err)
		}
		if len(tasks) == 0 {
			return false, nil
		}
		last := &tasks[len(tasks)-1]
		switch last.Status {
		case domain.TaskStatusCompleted, domain.TaskStatusFailed:
			return true, o.processTaskResult(ctx, inst, step, last, spec, allSteps)
		}
		return false, nil

	case domain.StepTypeSubworkflow:
		if step.ChildInstanceID == nil {
			// Спавн не состоялся — повторяем.
			return true, o.spawnSubworkflow(ctx, inst, step, spec)
		}
		child, err := o.instances.GetByID(ctx, *step.ChildInstanceID)
		if err != nil {
			return false, fmt.Errorf("get child instance: %w", err)
		}
		if !child.IsFinished() {
			return false, nil
		}
		if child.Status == domain.InstanceStatusCompleted {
			return true, o.completeStep(ctx, inst, step, child.Context, allSteps)
		}
		reason := fmt.Sprintf("child instance %s: %s", child.Status, child.Reason)
		return true, o.failStep(ctx, inst, step, reason, false)
	}

	return false, nil
}

// evaluateCondition выполняет CONDITION шаг.
//
// true завершает шаг с результатом. false пропускает шаг и каскадно
// пропускает зависимые шаги, достижимые только через эту ветку.
func (o *Orchestrator) evaluateCondition(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, spec *domain.StepSpec, allSteps []domain.StepExecution) (bool, error) {
	result, err := engine.RenderCondition(spec.Condition, engine.NewMappingContext(nil, inst.Context))
	if err != nil {
		if err := o.markStepRunning(ctx, inst, step); err != nil {
			return false, err
		}
		return true, o.failStep(ctx, inst, step, fmt.Sprintf("condition error: %v", err), false)
	}

	if result {
		if err := o.markStepRunning(ctx, inst, step); err != nil {
			return false, err
		}
		return true, o.completeStep(ctx, inst, step, map[string]any{"result": true}, allSteps)
	}

	// false: шаг SKIPPED, недостижимая ветка пропускается каскадом
	reason := "condition evaluated to false"
	step.MarkSkipped(reason)
	if err := o.steps.UpdateStatus(ctx, step, domain.StepStatusReady); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return false, nil
		}
		return false, fmt.Errorf("skip condition step: %w", err)
	}
	if err := o.audit.Append(ctx, domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditStepSkipped, reason)); err != nil {
		return false, fmt.Errorf("append audit: %w", err)
	}
	telemetry.StepsCompleted.WithLabelValues(string(domain.StepStatusSkipped)).Inc()

	fresh, err := o.steps.ListByInstance(ctx, inst.ID)
	if err != nil {
		return true, fmt.Errorf("list steps: %w", err)
	}
	cascadeReason := fmt.Sprintf("unreachable: branch of %s skipped", step.StepID)
	for _, id := range engine.SkipCascade(fresh, step.StepID) {
		dep := findStep(fresh, id)
		if dep == nil || dep.Status != domain.StepStatusPending {
			continue
		}
		dep.MarkSkipped(cascadeReason)
		if err := o.steps.UpdateStatus(ctx, dep, domain.StepStatusPending); err != nil {
			if errors.Is(err, repo.ErrStaleStatus) {
				continue
			}
			return true, fmt.Errorf("skip cascaded step: %w", err)
		}
		if err := o.audit.Append(ctx, domain.NewStepAuditEvent(inst.ID, dep.ID, domain.AuditStepSkipped, cascadeReason)); err != nil {
			return true, fmt.Errorf("append audit: %w", err)
		}
	}

	return true, nil
}

// spawnSubworkflow порождает дочерний instance для SUBWORKFLOW шага.
func (o *Orchestrator) spawnSubworkflow(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, spec *domain.StepSpec) error {
	if spec.Subworkflow == nil {
		return o.failStep(ctx, inst, step, "subworkflow step has no subworkflow spec", false)
	}

	childCtx, err := engine.RenderMapping(spec.Subworkflow.InputMapping, engine.NewMappingContext(nil, inst.Context))
	if err != nil {
		return o.failStep(ctx, inst, step, fmt.Sprintf("render subworkflow input: %v", err), false)
	}

	def, err := o.definitions.GetByName(ctx, spec.Subworkflow.Definition)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o.failStep(ctx, inst, step, fmt.Sprintf("subworkflow definition %q not found", spec.Subworkflow.Definition), false)
		}
		return fmt.Errorf("get subworkflow definition: %w", err)
	}

	child, err := o.CreateInstance(ctx, CreateInstanceParams{
		DefinitionID: def.ID,
		Context:      childCtx,
		Priority:     inst.Priority,
		Parent: &ParentRef{
			Instance:        inst,
			StepExecutionID: step.ID,
		},
	})
	if err != nil {
		if errors.Is(err, ErrDefinitionNotActive) || errors.Is(err, ErrMaxNestingDepthExceeded) {
			return o.failStep(ctx, inst, step, err.Error(), false)
		}
		return fmt.Errorf("create child instance: %w", err)
	}

	step.ChildInstanceID = &child.ID
	if err := o.steps.UpdateStatus(ctx, step, domain.StepStatusRunning); err != nil && !errors.Is(err, repo.ErrStaleStatus) {
		return fmt.Errorf("link child instance: %w", err)
	}

	o.logger.Info("subworkflow spawned",
		"instance_id", inst.ID,
		"step_id", step.StepID,
		"child_instance_id", child.ID,
		"depth", child.Depth,
	)

	return nil
}

// markStepRunning — CAS READY → RUNNING с записью аудита.
func (o *Orchestrator) markStepRunning(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution) error {
	step.MarkRunning()
	if err := o.steps.UpdateStatus(ctx, step, domain.StepStatusReady); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil
		}
		return fmt.Errorf("mark step running: %w", err)
	}
	return o.audit.Append(ctx, domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditStepRunning, ""))
}

// completeStep завершает шаг с результатом.
//
// Если завершение удерживается finish-gating ребром, результат
// записывается, а шаг остаётся RUNNING до ResolveCompletions.
// Результат попадает в контекст instance под ключом steps.<step_id>.
func (o *Orchestrator) completeStep(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, output map[string]any, allSteps []domain.StepExecution) error {
	byStepID := make(map[string]*domain.StepExecution, len(allSteps))
	for i := range allSteps {
		byStepID[allSteps[i].StepID] = &allSteps[i]
	}

	if engine.CompletionBlocked(step, byStepID) {
		if err := o.steps.RecordOutput(ctx, step.ID, output); err != nil && !errors.Is(err, repo.ErrStaleStatus) {
			return fmt.Errorf("record step output: %w", err)
		}
		return nil
	}

	step.MarkCompleted(output)
	if err := o.steps.UpdateStatus(ctx, step, domain.StepStatusRunning); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil
		}
		return fmt.Errorf("complete step: %w", err)
	}
	if err := o.audit.Append(ctx, domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditStepCompleted, "")); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	telemetry.StepsCompleted.WithLabelValues(string(domain.StepStatusCompleted)).Inc()
	if d := step.Duration(); d > 0 {
		telemetry.StepDuration.Observe(d.Seconds())
	}

	return o.mergeStepOutput(ctx, inst, step.StepID, step.OutputData)
}

// failStep обрабатывает падение или таймаут шага.
//
// Решение принимает engine.DecideFailure: retry возвращает шаг в READY
// (следующий диспатч — после backoff), optional шаг пропускается,
// обязательный без retry роняет весь instance.
func (o *Orchestrator) failStep(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, reason string, timedOut bool) error {
	expected := step.Status

	switch engine.DecideFailure(step, timedOut) {
	case engine.ActionRetry:
		step.MarkFailed(reason)
		if err := o.steps.UpdateStatus(ctx, step, expected); err != nil {
			if errors.Is(err, repo.ErrStaleStatus) {
				return nil
			}
			return fmt.Errorf("fail step: %w", err)
		}
		if err := o.audit.Append(ctx, domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditStepFailed, reason)); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}

		_, err := o.retryFailedStep(ctx, inst, step, o.stepTimeoutSec(ctx, inst, step.StepID))
		return err

	case engine.ActionSkip:
		step.MarkSkipped("optional step failed: " + reason)
		if err := o.steps.UpdateStatus(ctx, step, expected); err != nil {
			if errors.Is(err, repo.ErrStaleStatus) {
				return nil
			}
			return fmt.Errorf("skip step: %w", err)
		}
		telemetry.StepsCompleted.WithLabelValues(string(domain.StepStatusSkipped)).Inc()
		return o.audit.Append(ctx, domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditStepSkipped, step.Error))

	default: // engine.ActionFailInstance
		if timedOut {
			step.MarkTimedOut()
		} else {
			step.MarkFailed(reason)
		}
		if err := o.steps.UpdateStatus(ctx, step, expected); err != nil {
			if errors.Is(err, repo.ErrStaleStatus) {
				return nil
			}
			return fmt.Errorf("fail step: %w", err)
		}
		telemetry.StepsCompleted.WithLabelValues(string(step.Status)).Inc()
		if err := o.audit.Append(ctx, domain.NewStepAuditEvent(inst.ID, step.ID, engine.StepAuditType(step.Status), step.Error)); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}

		if _, err := o.tasks.CancelActiveByStep(ctx, step.ID, "step failed"); err != nil {
			return fmt.Errorf("cancel step tasks: %w", err)
		}

		return o.failInstance(ctx, inst, fmt.Sprintf("step %s: %s", step.StepID, step.Error))
	}
}

// retryFailedStep возвращает FAILED шаг с остатком retry в READY.
//
// Вторая ступень retry-лестницы failStep; тот же код подбирает шаг,
// застрявший в FAILED, если оркестратор упал между фиксацией падения
// и сбросом. Следующий диспатч выдерживает backoff по последнему task.
func (o *Orchestrator) retryFailedStep(ctx context.Context, inst *domain.WorkflowInstance, step *domain.StepExecution, timeoutSec int) (bool, error) {
	if !step.CanRetry() {
		return false, nil
	}

	step.ResetForRetry()
	step.MarkReady(timeoutSec, inst.Deadline)
	if err := o.steps.UpdateStatus(ctx, step, domain.StepStatusFailed); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return false, nil
		}
		return false, fmt.Errorf("reset step for retry: %w", err)
	}

	retryReason := fmt.Sprintf("retry %d/%d", step.RetryCount, step.MaxRetries)
	if err := o.audit.Append(ctx, domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditStepRetried, retryReason)); err != nil {
		return true, fmt.Errorf("append audit: %w", err)
	}
	return true, nil
}

// mergeStepOutput публикует результат шага в контекст instance.
func (o *Orchestrator) mergeStepOutput(ctx context.Context, inst *domain.WorkflowInstance, stepID string, output map[string]any) error {
	if inst.Context == nil {
		inst.Context = make(map[string]any)
	}
	stepOutputs, ok := inst.Context["steps"].(map[string]any)
	if !ok {
		stepOutputs = make(map[string]any)
		inst.Context["steps"] = stepOutputs
	}
	stepOutputs[stepID] = output

	if err := o.instances.UpdateContext(ctx, inst.ID, inst.Context); err != nil {
		return fmt.Errorf("update instance context: %w", err)
	}
	return nil
}

// stepTimeoutSec возвращает объявленный таймаут шага из definition.
func (o *Orchestrator) stepTimeoutSec(ctx context.Context, inst *domain.WorkflowInstance, stepID string) int {
	version, err := o.definitions.GetVersion(ctx, inst.DefinitionID, inst.Version)
	if err != nil {
		return 0
	}
	return specTimeout(indexSpecs(&version.Graph)[stepID])
}

// --- Helpers ---

func indexSpecs(graph *domain.DefinitionGraph) map[string]*domain.StepSpec {
	specs := make(map[string]*domain.StepSpec, len(graph.Steps))
	for i := range graph.Steps {
		specs[graph.Steps[i].ID] = &graph.Steps[i]
	}
	return specs
}

func findStep(steps []domain.StepExecution, id uuid.UUID) *domain.StepExecution {
	for i := range steps {
		if steps[i].ID == id {
			return &steps[i]
		}
	}
	return nil
}

func specTimeout(spec *domain.StepSpec) int {
	if spec == nil {
		return 0
	}
	return spec.TimeoutSec
}

// failureReason собирает причину падения instance из упавших шагов.
// Шаги с остатком retry пропускаются: они ещё не причина падения.
func failureReason(steps []domain.StepExecution) string {
	for i := range steps {
		step := &steps[i]
		if step.Optional {
			continue
		}
		switch step.Status {
		case domain.StepStatusFailed:
			if step.CanRetry() {
				continue
			}
			return fmt.Sprintf("step %s: %s", step.StepID, step.Error)
		case domain.StepStatusTimedOut:
			return fmt.Sprintf("step %s: %s", step.StepID, step.Error)
		}
	}
	return "required step failed"
}
