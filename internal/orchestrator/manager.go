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

// CreateInstanceParams — параметры создания instance.
type CreateInstanceParams struct {
	// DefinitionID — definition для запуска.
	DefinitionID uuid.UUID

	// Version — версия definition. 0 — последняя.
	Version int

	// Context — начальный контекст instance.
	Context map[string]any

	// Priority — приоритет tasks. 0 — берётся из definition.
	Priority int

	// TriggerID и FireKey — для instances, созданных триггером.
	TriggerID *uuid.UUID
	FireKey   string

	// Parent — для sub-workflow instances.
	Parent *ParentRef
}

// ParentRef — ссылка на родительский SUBWORKFLOW шаг.
type ParentRef struct {
	// Instance — родительский instance.
	Instance *domain.WorkflowInstance

	// StepExecutionID — SUBWORKFLOW шаг, ожидающий ребёнка.
	StepExecutionID uuid.UUID
}

// CreateInstance создаёт instance и материализует его шаги.
//
// Валидирует, что definition ACTIVE, строит граф (ловит циклы и битые
// ссылки до записи чего-либо в БД), проверяет потолок вложенности для
// sub-workflow, вычисляет дедлайн из definition. Шаги без блокирующих
// стартовых зависимостей материализуются сразу в READY.
//
// Для повторного срабатывания триггера с тем же fire key возвращает
// repo.ErrAlreadyExists: instance уже создан первым срабатыванием.
func (o *Orchestrator) CreateInstance(ctx context.Context, params CreateInstanceParams) (*domain.WorkflowInstance, error) {
	def, err := o.definitions.GetByID(ctx, params.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	if !def.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", ErrDefinitionNotActive, def.Name, def.Status)
	}

	var version *domain.DefinitionVersion
	if params.Version > 0 {
		version, err = o.definitions.GetVersion(ctx, def.ID, params.Version)
	} else {
		version, err = o.definitions.GetLatestVersion(ctx, def.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("get definition version: %w", err)
	}

	graph, err := engine.BuildGraph(&version.Graph)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	now := time.Now()
	inst := &domain.WorkflowInstance{
		ID:           uuid.New(),
		DefinitionID: def.ID,
		Version:      version.Version,
		Status:       domain.InstanceStatusInitializing,
		Context:      params.Context,
		Priority:     params.Priority,
		TriggerID:    params.TriggerID,
		FireKey:      params.FireKey,
		CreatedAt:    now,
	}
	if inst.Priority == 0 {
		inst.Priority = version.Graph.Priority
	}
	if version.Graph.TimeoutSec > 0 {
		deadline := now.Add(time.Duration(version.Graph.TimeoutSec) * time.Second)
		inst.Deadline = &deadline
	}

	// Вложенность: depth строго растёт от родителя к ребёнку,
	// root_instance_id копируется по всему дереву.
	inst.RootInstanceID = inst.ID
	if params.Parent != nil {
		parent := params.Parent.Instance
		if parent.Depth+1 > domain.MaxNestingDepth {
			return nil, fmt.Errorf("%w: depth %d", ErrMaxNestingDepthExceeded, parent.Depth+1)
		}
		inst.ParentInstanceID = &parent.ID
		inst.ParentStepID = &params.Parent.StepExecutionID
		inst.RootInstanceID = parent.RootInstanceID
		inst.Depth = parent.Depth + 1
		// Дочерний instance не должен пережить родителя
		if parent.Deadline != nil && (inst.Deadline == nil || parent.Deadline.Before(*inst.Deadline)) {
			inst.Deadline = parent.Deadline
		}
	}

	if err := o.instances.Create(ctx, inst); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create instance: %w", err)
	}

	steps, events := materializeSteps(inst, graph)
	if err := o.steps.CreateForInstance(ctx, steps); err != nil {
		return nil, fmt.Errorf("materialize steps: %w", err)
	}

	events = append([]domain.AuditEvent{
		domain.NewAuditEvent(inst.ID, domain.AuditInstanceCreated, ""),
	}, events...)
	if err := o.audit.AppendAll(ctx, events); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}

	inst.MarkRunning()
	if err := o.instances.UpdateStatus(ctx, inst, domain.InstanceStatusInitializing); err != nil {
		return nil, fmt.Errorf("mark instance running: %w", err)
	}
	if err := o.audit.Append(ctx, domain.NewAuditEvent(inst.ID, domain.AuditInstanceRunning, "")); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}

	telemetry.InstancesStarted.Inc()

	o.logger.Info("instance created",
		"instance_id", inst.ID,
		"definition", def.Name,
		"version", inst.Version,
		"steps", graph.Size(),
		"depth", inst.Depth,
	)

	o.publishInstanceCreated(ctx, inst.ID)

	return inst, nil
}

// materializeSteps строит step execution строки из графа.
// Возвращает шаги и audit события для шагов, стартующих сразу в READY.
func materializeSteps(inst *domain.WorkflowInstance, graph *engine.Graph) ([]domain.StepExecution, []domain.AuditEvent) {
	now := time.Now()
	steps := make([]domain.StepExecution, 0, len(graph.Order))
	var events []domain.AuditEvent

	for _, node := range graph.Order {
		spec := node.Spec
		step := domain.StepExecution{
			ID:           uuid.New(),
			InstanceID:   inst.ID,
			StepID:       spec.ID,
			Name:         spec.Name,
			Type:         spec.Type,
			Status:       domain.StepStatusPending,
			AssignedTeam: spec.Team,
			Action:       spec.Action,
			DependsOn:    spec.DependsOn,
			Optional:     spec.Optional,
			MaxRetries:   spec.MaxRetries,
			BackoffSec:   spec.BackoffSec,
			InputData:    spec.Input,
			CreatedAt:    now,
		}

		if !step.HasBlockingDeps() {
			step.MarkReady(spec.TimeoutSec, inst.Deadline)
			events = append(events, domain.NewStepAuditEvent(inst.ID, step.ID, domain.AuditStepReady, ""))
		}

		steps = append(steps, step)
	}

	return steps, events
}

// TransitionInstance — единственный путь instance в терминальный статус.
// Всегда пишет ровно одну запись аудита; CAS по ожидаемому статусу
// гарантирует, что из двух конкурентных финализаций пройдёт одна.
func (o *Orchestrator) TransitionInstance(ctx context.Context, inst *domain.WorkflowInstance, expected domain.InstanceStatus, reason string) error {
	if err := engine.CheckInstanceTransition(expected, inst.Status); err != nil {
		return err
	}

	if err := o.instances.UpdateStatus(ctx, inst, expected); err != nil {
		return err
	}

	if err := o.audit.Append(ctx, domain.NewAuditEvent(inst.ID, engine.InstanceAuditType(inst.Status), reason)); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	if inst.Status.IsTerminal() {
		telemetry.InstancesFinished.WithLabelValues(string(inst.Status)).Inc()
	}

	return nil
}

// CancelInstance отменяет instance с каскадом: нетерминальные шаги и
// tasks отменяются, затем рекурсивно отменяются дочерние sub-workflow
// instances. Рекурсия ограничена потолком вложенности.
//
// Если отменён instance, который сам является sub-workflow (отмена не
// через родителя), родительский SUBWORKFLOW шаг падает по своей retry
// политике — вечно ждать отменённого ребёнка он не должен.
func (o *Orchestrator) CancelInstance(ctx context.Context, instanceID uuid.UUID, reason string) error {
	return o.cancelInstance(ctx, instanceID, reason, 0, true)
}

func (o *Orchestrator) cancelInstance(ctx context.Context, instanceID uuid.UUID, reason string, depth int, notifyParent bool) error {
	if depth > domain.MaxNestingDepth {
		return fmt.Errorf("%w: cancel cascade at depth %d", ErrMaxNestingDepthExceeded, depth)
	}

	inst, err := o.instances.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("get instance: %w", err)
	}
	if inst.IsFinished() {
		return fmt.Errorf("%w: %s is %s", ErrInstanceFinished, instanceID, inst.Status)
	}

	expected := inst.Status
	inst.MarkCancelled(reason)
	if err := o.TransitionInstance(ctx, inst, expected, reason); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			// Кто-то финализировал конкурентно
			return nil
		}
		return err
	}

	if err := o.cancelChildren(ctx, inst, reason, depth); err != nil {
		return err
	}

	o.logger.Info("instance cancelled",
		"instance_id", inst.ID,
		"reason", reason,
	)

	if notifyParent && inst.IsSubworkflow() {
		if err := o.handleChildFinished(ctx, inst); err != nil {
			o.logger.Error("failed to notify parent of cancelled child",
				"instance_id", inst.ID,
				"parent_instance_id", inst.ParentInstanceID,
				"error", err,
			)
		}
	}

	return nil
}

// cancelChildren отменяет нетерминальные шаги, tasks и дочерние
// instances уже финализированного instance.
func (o *Orchestrator) cancelChildren(ctx context.Context, inst *domain.WorkflowInstance, reason string, depth int) error {
	stepIDs, err := o.steps.CancelNonTerminalByInstance(ctx, inst.ID, reason)
	if err != nil {
		return fmt.Errorf("cancel steps: %w", err)
	}
	taskIDs, err := o.tasks.CancelActiveByInstance(ctx, inst.ID, reason)
	if err != nil {
		return fmt.Errorf("cancel tasks: %w", err)
	}

	var events []domain.AuditEvent
	for _, id := range stepIDs {
		events = append(events, domain.NewStepAuditEvent(inst.ID, id, domain.AuditStepCancelled, reason))
	}
	for _, id := range taskIDs {
		ev := domain.NewAuditEvent(inst.ID, domain.AuditTaskCancelled, reason)
		taskID := id
		ev.TaskID = &taskID
		events = append(events, ev)
	}
	if err := o.audit.AppendAll(ctx, events); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	children, err := o.instances.ListByParent(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("list children: %w", err)
	}
	for i := range children {
		if children[i].IsFinished() {
			continue
		}
		if err := o.cancelInstance(ctx, children[i].ID, reason, depth+1, false); err != nil {
			o.logger.Error("failed to cancel child instance",
				"instance_id", children[i].ID,
				"error", err,
			)
		}
	}

	return nil
}

// PauseInstance приостанавливает instance: новые шаги не стартуют,
// уже диспатченные tasks продолжают выполняться.
func (o *Orchestrator) PauseInstance(ctx context.Context, instanceID uuid.UUID, reason string) error {
	inst, err := o.instances.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("get instance: %w", err)
	}
	if inst.Status != domain.InstanceStatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrInstanceNotRunning, instanceID, inst.Status)
	}

	inst.MarkPaused(reason)
	if err := o.instances.UpdateStatus(ctx, inst, domain.InstanceStatusRunning); err != nil {
		return err
	}
	return o.audit.Append(ctx, domain.NewAuditEvent(inst.ID, domain.AuditInstancePaused, reason))
}

// ResumeInstance возвращает instance из PAUSED в RUNNING и сразу
// выполняет проход резолвера.
func (o *Orchestrator) ResumeInstance(ctx context.Context, instanceID uuid.UUID) error {
	inst, err := o.instances.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("get instance: %w", err)
	}
	if inst.Status != domain.InstanceStatusPaused {
		return fmt.Errorf("%w: %s is %s", ErrInstanceNotPaused, instanceID, inst.Status)
	}

	inst.MarkResumed()
	if err := o.instances.UpdateStatus(ctx, inst, domain.InstanceStatusPaused); err != nil {
		return err
	}
	if err := o.audit.Append(ctx, domain.NewAuditEvent(inst.ID, domain.AuditInstanceResumed, "")); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	return o.ResolvePass(ctx, instanceID)
}

// completeInstance финализирует успешный instance.
func (o *Orchestrator) completeInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	expected := inst.Status
	inst.MarkCompleted()
	if err := o.TransitionInstance(ctx, inst, expected, inst.Reason); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil
		}
		return err
	}

	o.logger.Info("instance completed",
		"instance_id", inst.ID,
		"duration", inst.Duration(),
	)

	if inst.IsSubworkflow() {
		return o.handleChildFinished(ctx, inst)
	}
	return nil
}

// failInstance финализирует упавший instance и каскадно отменяет всё
// незавершённое под ним.
//
// Инвариант: instance с истёкшим дедлайном финализируется как
// TIMED_OUT независимо от того, через какой путь истечение
// обнаружено — дедлайны шагов срезаются дедлайном instance, и падение
// такого шага по таймауту есть таймаут самого instance.
func (o *Orchestrator) failInstance(ctx context.Context, inst *domain.WorkflowInstance, reason string) error {
	expected := inst.Status
	if inst.DeadlineExpired(time.Now()) {
		inst.MarkTimedOut()
		reason = inst.Reason
	} else {
		inst.MarkFailed(reason)
	}
	if err := o.TransitionInstance(ctx, inst, expected, reason); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil
		}
		return err
	}

	if err := o.cancelChildren(ctx, inst, "instance failed: "+reason, inst.Depth); err != nil {
		return err
	}

	o.logger.Warn("instance failed",
		"instance_id", inst.ID,
		"status", inst.Status,
		"reason", reason,
	)

	if inst.IsSubworkflow() {
		return o.handleChildFinished(ctx, inst)
	}
	return nil
}

// handleChildFinished пробрасывает терминальный статус дочернего
// instance в SUBWORKFLOW шаг родителя.
//
// COMPLETED завершает родительский шаг с контекстом ребёнка в качестве
// результата. FAILED, TIMED_OUT и независимо отменённый CANCELLED
// роняют шаг по его retry политике: retry порождает новый дочерний
// instance.
func (o *Orchestrator) handleChildFinished(ctx context.Context, child *domain.WorkflowInstance) error {
	if child.ParentInstanceID == nil || child.ParentStepID == nil {
		return nil
	}

	parent, err := o.instances.GetByID(ctx, *child.ParentInstanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get parent instance: %w", err)
	}
	if parent.IsFinished() {
		return nil
	}

	step, err := o.steps.GetByID(ctx, *child.ParentStepID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get parent step: %w", err)
	}
	if step.IsFinished() {
		return nil
	}

	switch child.Status {
	case domain.InstanceStatusCompleted:
		allSteps, err := o.steps.ListByInstance(ctx, parent.ID)
		if err != nil {
			return fmt.Errorf("list parent steps: %w", err)
		}
		if err := o.completeStep(ctx, parent, step, child.Context, allSteps); err != nil {
			return err
		}
	default:
		reason := fmt.Sprintf("child instance %s: %s", child.Status, child.Reason)
		if err := o.failStep(ctx, parent, step, reason, false); err != nil {
			return err
		}
	}

	return o.ResolvePass(ctx, parent.ID)
}
