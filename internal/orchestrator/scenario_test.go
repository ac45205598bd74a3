package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/repo"
)

// memStore — in-memory хранилище с CAS семантикой репозиториев.
// Методы отдают копии строк: мутации в коде оркестратора попадают
// в хранилище только через явные Update-вызовы, как и с базой.
type memStore struct {
	mu          sync.Mutex
	definitions map[uuid.UUID]domain.WorkflowDefinition
	versions    map[uuid.UUID][]domain.DefinitionVersion
	instances   map[uuid.UUID]*domain.WorkflowInstance
	instOrder   []uuid.UUID
	steps       map[uuid.UUID]*domain.StepExecution
	stepOrder   []uuid.UUID
	tasks       map[uuid.UUID]*domain.TeamTask
	taskOrder   []uuid.UUID
	events      []domain.AuditEvent
}

func newMemStore() *memStore {
	return &memStore{
		definitions: make(map[uuid.UUID]domain.WorkflowDefinition),
		versions:    make(map[uuid.UUID][]domain.DefinitionVersion),
		instances:   make(map[uuid.UUID]*domain.WorkflowInstance),
		steps:       make(map[uuid.UUID]*domain.StepExecution),
		tasks:       make(map[uuid.UUID]*domain.TeamTask),
	}
}

func newMemOrchestrator(s *memStore) *Orchestrator {
	return New(Config{
		Definitions: &memDefinitions{s},
		Instances:   &memInstances{s},
		Steps:       &memSteps{s},
		Tasks:       &memTasks{s},
		Audit:       &memAudit{s},
		Logger:      slog.New(slog.DiscardHandler),
	})
}

func (s *memStore) seedDefinition(name string, graph domain.DefinitionGraph) *domain.WorkflowDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	def := domain.WorkflowDefinition{
		ID:        uuid.New(),
		Name:      name,
		Status:    domain.DefinitionStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.definitions[def.ID] = def
	s.versions[def.ID] = []domain.DefinitionVersion{{
		DefinitionID: def.ID,
		Version:      1,
		Graph:        graph,
		CreatedAt:    time.Now(),
	}}
	return &def
}

// --- Test-only accessors ---

func (s *memStore) instance(t *testing.T, id uuid.UUID) *domain.WorkflowInstance {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		t.Fatalf("instance %s not in store", id)
	}
	cp := *inst
	return &cp
}

func (s *memStore) stepByStepID(t *testing.T, instanceID uuid.UUID, stepID string) *domain.StepExecution {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.stepOrder {
		step := s.steps[id]
		if step.InstanceID == instanceID && step.StepID == stepID {
			cp := *step
			return &cp
		}
	}
	t.Fatalf("step %s of instance %s not in store", stepID, instanceID)
	return nil
}

func (s *memStore) singlePendingTask(t *testing.T) *domain.TeamTask {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.TeamTask
	for _, id := range s.taskOrder {
		task := s.tasks[id]
		if task.Status != domain.TaskStatusPending {
			continue
		}
		if found != nil {
			t.Fatalf("more than one PENDING task in store")
		}
		cp := *task
		found = &cp
	}
	if found == nil {
		t.Fatal("no PENDING task in store")
	}
	return found
}

func (s *memStore) tasksForStep(stepExecID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.taskOrder {
		if s.tasks[id].StepExecutionID == stepExecID {
			n++
		}
	}
	return n
}

func (s *memStore) activeTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.taskOrder {
		if s.tasks[id].Status.IsActive() {
			n++
		}
	}
	return n
}

func (s *memStore) countEvents(instanceID uuid.UUID, eventType domain.AuditEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.events {
		ev := &s.events[i]
		if ev.EventType != eventType {
			continue
		}
		if instanceID != uuid.Nil && ev.InstanceID != instanceID {
			continue
		}
		n++
	}
	return n
}

// forceStep перезаписывает строку шага в обход CAS (подготовка
// сценариев: истёкший дедлайн, состояние после падения процесса).
func (s *memStore) forceStep(step *domain.StepExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *step
	s.steps[step.ID] = &cp
}

func (s *memStore) forceInstanceDeadline(id uuid.UUID, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[id]; ok {
		d := deadline
		inst.Deadline = &d
	}
}

// --- DefinitionStore ---

type memDefinitions struct{ s *memStore }

func (d *memDefinitions) GetByID(_ context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	def, ok := d.s.definitions[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &def, nil
}

func (d *memDefinitions) GetByName(_ context.Context, name string) (*domain.WorkflowDefinition, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, def := range d.s.definitions {
		if def.Name == name {
			cp := def
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (d *memDefinitions) GetVersion(_ context.Context, definitionID uuid.UUID, version int) (*domain.DefinitionVersion, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, v := range d.s.versions[definitionID] {
		if v.Version == version {
			cp := v
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (d *memDefinitions) GetLatestVersion(_ context.Context, definitionID uuid.UUID) (*domain.DefinitionVersion, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	versions := d.s.versions[definitionID]
	if len(versions) == 0 {
		return nil, repo.ErrNotFound
	}
	cp := versions[len(versions)-1]
	return &cp, nil
}

// --- InstanceStore ---

type memInstances struct{ s *memStore }

func (m *memInstances) Create(_ context.Context, inst *domain.WorkflowInstance) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if inst.TriggerID != nil && inst.FireKey != "" {
		for _, id := range m.s.instOrder {
			other := m.s.instances[id]
			if other.TriggerID != nil && *other.TriggerID == *inst.TriggerID && other.FireKey == inst.FireKey {
				return repo.ErrAlreadyExists
			}
		}
	}
	cp := *inst
	m.s.instances[inst.ID] = &cp
	m.s.instOrder = append(m.s.instOrder, inst.ID)
	return nil
}

func (m *memInstances) GetByID(_ context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	inst, ok := m.s.instances[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *memInstances) UpdateStatus(_ context.Context, inst *domain.WorkflowInstance, expected domain.InstanceStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.instances[inst.ID]
	if !ok || cur.Status != expected {
		return repo.ErrStaleStatus
	}
	cur.Status = inst.Status
	cur.Reason = inst.Reason
	cur.StartedAt = inst.StartedAt
	cur.FinishedAt = inst.FinishedAt
	return nil
}

func (m *memInstances) UpdateContext(_ context.Context, id uuid.UUID, instContext map[string]any) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.instances[id]
	if !ok {
		return repo.ErrNotFound
	}
	cur.Context = instContext
	return nil
}

func (m *memInstances) ListActive(_ context.Context, limit int) ([]domain.WorkflowInstance, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.WorkflowInstance
	for _, id := range m.s.instOrder {
		inst := m.s.instances[id]
		switch inst.Status {
		case domain.InstanceStatusInitializing, domain.InstanceStatusRunning:
			out = append(out, *inst)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memInstances) ListByParent(_ context.Context, parentID uuid.UUID) ([]domain.WorkflowInstance, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.WorkflowInstance
	for _, id := range m.s.instOrder {
		inst := m.s.instances[id]
		if inst.ParentInstanceID != nil && *inst.ParentInstanceID == parentID {
			out = append(out, *inst)
		}
	}
	return out, nil
}

// --- StepStore ---

type memSteps struct{ s *memStore }

func (m *memSteps) CreateForInstance(_ context.Context, steps []domain.StepExecution) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range steps {
		cp := steps[i]
		m.s.steps[cp.ID] = &cp
		m.s.stepOrder = append(m.s.stepOrder, cp.ID)
	}
	return nil
}

func (m *memSteps) GetByID(_ context.Context, id uuid.UUID) (*domain.StepExecution, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	step, ok := m.s.steps[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *step
	return &cp, nil
}

func (m *memSteps) ListByInstance(_ context.Context, instanceID uuid.UUID) ([]domain.StepExecution, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.StepExecution
	for _, id := range m.s.stepOrder {
		if step := m.s.steps[id]; step.InstanceID == instanceID {
			out = append(out, *step)
		}
	}
	return out, nil
}

func (m *memSteps) UpdateStatus(_ context.Context, step *domain.StepExecution, expected domain.StepStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.steps[step.ID]
	if !ok || cur.Status != expected {
		return repo.ErrStaleStatus
	}
	cur.Status = step.Status
	cur.RetryCount = step.RetryCount
	cur.Iteration = step.Iteration
	cur.Approvals = step.Approvals
	cur.OutputData = step.OutputData
	cur.ChildInstanceID = step.ChildInstanceID
	cur.Deadline = step.Deadline
	cur.Error = step.Error
	cur.StartedAt = step.StartedAt
	cur.FinishedAt = step.FinishedAt
	return nil
}

func (m *memSteps) RecordOutput(_ context.Context, id uuid.UUID, output map[string]any) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.steps[id]
	if !ok || cur.Status != domain.StepStatusRunning {
		return repo.ErrStaleStatus
	}
	cur.OutputData = output
	return nil
}

func (m *memSteps) CancelNonTerminalByInstance(_ context.Context, instanceID uuid.UUID, reason string) ([]uuid.UUID, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()
	var ids []uuid.UUID
	for _, id := range m.s.stepOrder {
		step := m.s.steps[id]
		if step.InstanceID != instanceID {
			continue
		}
		switch step.Status {
		case domain.StepStatusPending, domain.StepStatusReady, domain.StepStatusRunning:
			step.Status = domain.StepStatusCancelled
			step.Error = reason
			step.FinishedAt = &now
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// --- TaskStore ---

type memTasks struct{ s *memStore }

func (m *memTasks) Create(_ context.Context, task *domain.TeamTask) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, id := range m.s.taskOrder {
		other := m.s.tasks[id]
		if other.StepExecutionID == task.StepExecutionID && other.Status.IsActive() {
			return repo.ErrAlreadyExists
		}
	}
	cp := *task
	m.s.tasks[task.ID] = &cp
	m.s.taskOrder = append(m.s.taskOrder, task.ID)
	return nil
}

func (m *memTasks) GetByID(_ context.Context, id uuid.UUID) (*domain.TeamTask, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	task, ok := m.s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (m *memTasks) ListByStep(_ context.Context, stepExecID uuid.UUID) ([]domain.TeamTask, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.TeamTask
	for _, id := range m.s.taskOrder {
		if task := m.s.tasks[id]; task.StepExecutionID == stepExecID {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (m *memTasks) Claim(_ context.Context, id uuid.UUID, memberID string) (*domain.TeamTask, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.tasks[id]
	if !ok || cur.Status != domain.TaskStatusPending {
		return nil, repo.ErrStaleStatus
	}
	cur.MarkClaimed(memberID)
	cp := *cur
	return &cp, nil
}

func (m *memTasks) UpdateStatus(_ context.Context, task *domain.TeamTask, expected domain.TaskStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.tasks[task.ID]
	if !ok || cur.Status != expected {
		return repo.ErrStaleStatus
	}
	cur.Status = task.Status
	cur.Output = task.Output
	cur.Error = task.Error
	cur.FinishedAt = task.FinishedAt
	return nil
}

func (m *memTasks) CancelActiveByInstance(_ context.Context, instanceID uuid.UUID, reason string) ([]uuid.UUID, error) {
	return m.cancelActive(func(task *domain.TeamTask) bool { return task.InstanceID == instanceID }, reason)
}

func (m *memTasks) CancelActiveByStep(_ context.Context, stepExecID uuid.UUID, reason string) ([]uuid.UUID, error) {
	return m.cancelActive(func(task *domain.TeamTask) bool { return task.StepExecutionID == stepExecID }, reason)
}

func (m *memTasks) cancelActive(match func(*domain.TeamTask) bool, reason string) ([]uuid.UUID, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var ids []uuid.UUID
	for _, id := range m.s.taskOrder {
		task := m.s.tasks[id]
		if task.Status.IsActive() && match(task) {
			task.MarkCancelled(reason)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// --- AuditStore ---

type memAudit struct{ s *memStore }

func (m *memAudit) Append(_ context.Context, ev domain.AuditEvent) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.events = append(m.s.events, ev)
	return nil
}

func (m *memAudit) AppendAll(_ context.Context, events []domain.AuditEvent) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.events = append(m.s.events, events...)
	return nil
}

// --- Scenarios ---

func chainGraph() domain.DefinitionGraph {
	return domain.DefinitionGraph{Steps: []domain.StepSpec{
		{ID: "a", Type: domain.StepTypeTask, Team: "ops", Action: "prepare"},
		{ID: "b", Type: domain.StepTypeTask, Team: "ops", Action: "process",
			DependsOn: []domain.DependencyEdge{{OnStep: "a"}}},
		{ID: "c", Type: domain.StepTypeTask, Team: "ops", Action: "finish",
			DependsOn: []domain.DependencyEdge{{OnStep: "b"}}},
	}}
}

// Последовательная цепочка A → B → C: каждая задача захватывается и
// завершается командой, instance доходит до COMPLETED с ровно одной
// записью аудита на каждый переход.
func TestOrchestrator_SequentialChain(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	def := store.seedDefinition("release-train", chainGraph())
	orch := newMemOrchestrator(store)

	inst, err := orch.CreateInstance(ctx, CreateInstanceParams{DefinitionID: def.ID})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := orch.ResolvePass(ctx, inst.ID); err != nil {
			t.Fatalf("resolve pass %d: %v", i, err)
		}
		task := store.singlePendingTask(t)
		if _, err := orch.ClaimTask(ctx, task.ID, "member-1"); err != nil {
			t.Fatalf("claim task %d: %v", i, err)
		}
		if err := orch.CompleteTask(ctx, task.ID, map[string]any{"ok": true}); err != nil {
			t.Fatalf("complete task %d: %v", i, err)
		}
	}
	if err := orch.ResolvePass(ctx, inst.ID); err != nil {
		t.Fatalf("final resolve pass: %v", err)
	}

	got := store.instance(t, inst.ID)
	if got.Status != domain.InstanceStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", got.Status, got.Reason)
	}
	if n := store.countEvents(inst.ID, domain.AuditStepCompleted); n != 3 {
		t.Errorf("expected 3 step_completed events, got %d", n)
	}
	if n := store.countEvents(inst.ID, domain.AuditInstanceCompleted); n != 1 {
		t.Errorf("expected 1 instance_completed event, got %d", n)
	}
	if n := store.countEvents(inst.ID, domain.AuditTaskDispatched); n != 3 {
		t.Errorf("expected 3 task_dispatched events, got %d", n)
	}
	stepOutputs, ok := got.Context["steps"].(map[string]any)
	if !ok || len(stepOutputs) != 3 {
		t.Errorf("instance context should carry 3 step outputs, got %v", got.Context)
	}
}

// Retry-лестница: два падения, затем успех. Каждая попытка — отдельный
// TeamTask, instance не падает, пока retry бюджет не израсходован.
func TestOrchestrator_RetryLadder(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	def := store.seedDefinition("fraud-review", domain.DefinitionGraph{Steps: []domain.StepSpec{
		{ID: "review", Type: domain.StepTypeTask, Team: "fraud", Action: "manual_review", MaxRetries: 2},
	}})
	orch := newMemOrchestrator(store)

	inst, err := orch.CreateInstance(ctx, CreateInstanceParams{DefinitionID: def.ID})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if err := orch.ResolvePass(ctx, inst.ID); err != nil {
			t.Fatalf("resolve pass attempt %d: %v", attempt, err)
		}
		task := store.singlePendingTask(t)
		if task.Attempt != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, task.Attempt)
		}
		if _, err := orch.ClaimTask(ctx, task.ID, "member-1"); err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		if err := orch.FailTask(ctx, task.ID, "verification failed"); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
	}

	if err := orch.ResolvePass(ctx, inst.ID); err != nil {
		t.Fatalf("resolve pass attempt 3: %v", err)
	}
	task := store.singlePendingTask(t)
	if task.Attempt != 3 {
		t.Fatalf("expected attempt 3, got %d", task.Attempt)
	}
	if _, err := orch.ClaimTask(ctx, task.ID, "member-2"); err != nil {
		t.Fatalf("claim attempt 3: %v", err)
	}
	if err := orch.CompleteTask(ctx, task.ID, map[string]any{"verdict": "clean"}); err != nil {
		t.Fatalf("complete attempt 3: %v", err)
	}
	if err := orch.ResolvePass(ctx, inst.ID); err != nil {
		t.Fatalf("final resolve pass: %v", err)
	}

	got := store.instance(t, inst.ID)
	if got.Status != domain.InstanceStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", got.Status, got.Reason)
	}
	step := store.stepByStepID(t, inst.ID, "review")
	if n := store.tasksForStep(step.ID); n != 3 {
		t.Errorf("expected 3 task rows for the step, got %d", n)
	}
	if step.RetryCount != 2 {
		t.Errorf("expected retry_count 2, got %d", step.RetryCount)
	}
	if n := store.countEvents(inst.ID, domain.AuditStepRetried); n != 2 {
		t.Errorf("expected 2 step_retried events, got %d", n)
	}
	if n := store.countEvents(inst.ID, domain.AuditInstanceFailed); n != 0 {
		t.Errorf("instance must not fail while retries remain, got %d instance_failed events", n)
	}
}

// Шаг, зафиксированный FAILED с остатком retry (процесс упал между
// фиксацией падения и сбросом): следующий проход резолвера возвращает
// его в READY и диспатчит новую попытку вместо падения instance.
func TestOrchestrator_RecoverStepStuckInFailed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	def := store.seedDefinition("fraud-review", domain.DefinitionGraph{Steps: []domain.StepSpec{
		{ID: "review", Type: domain.StepTypeTask, Team: "fraud", Action: "manual_review", MaxRetries: 2},
	}})
	orch := newMemOrchestrator(store)

	inst, err := orch.CreateInstance(ctx, CreateInstanceParams{DefinitionID: def.ID})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if err := orch.ResolvePass(ctx, inst.ID); err != nil {
		t.Fatalf("resolve pass: %v", err)
	}
	task := store.singlePendingTask(t)
	if _, err := orch.ClaimTask(ctx, task.ID, "member-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := orch.FailTask(ctx, task.ID, "verification failed"); err != nil {
		t.Fatalf("fail task: %v", err)
	}

	// Падение зафиксировано, сброс в READY не состоялся
	step := store.stepByStepID(t, inst.ID, "review")
	step.MarkFailed("verification failed")
	store.forceStep(step)

	if err := orch.ResolvePass(ctx, inst.ID); err != nil {
		t.Fatalf("recovery resolve pass: %v", err)
	}

	got := store.instance(t, inst.ID)
	if got.Status != domain.InstanceStatusRunning {
		t.Fatalf("instance must keep running, got %s (%s)", got.Status, got.Reason)
	}
	step = store.stepByStepID(t, inst.ID, "review")
	if step.RetryCount != 1 {
		t.Errorf("expected retry_count 1 after recovery, got %d", step.RetryCount)
	}
	if n := store.tasksForStep(step.ID); n != 2 {
		t.Errorf("expected a fresh task for the retry, got %d rows", n)
	}
	if n := store.countEvents(inst.ID, domain.AuditStepRetried); n != 1 {
		t.Errorf("expected 1 step_retried event, got %d", n)
	}
}

// Отмена instance: каскад гасит шаги, активные tasks и дочерний
// sub-workflow instance; активной работы не остаётся нигде.
func TestOrchestrator_CancelCascade(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedDefinition("child-flow", domain.DefinitionGraph{Steps: []domain.StepSpec{
		{ID: "work", Type: domain.StepTypeTask, Team: "ops", Action: "do_work"},
	}})
	parentDef := store.seedDefinition("parent-flow", domain.DefinitionGraph{Steps: []domain.StepSpec{
		{ID: "prep", Type: domain.StepTypeTask, Team: "ops", Action: "prepare"},
		{ID: "sub", Type: domain.StepTypeSubworkflow,
			Subworkflow: &domain.SubworkflowSpec{Definition: "child-flow"}},
	}})
	orch := newMemOrchestrator(store)

	inst, err := orch.CreateInstance(ctx, CreateInstanceParams{DefinitionID: parentDef.ID})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if err := orch.ResolvePass(ctx, inst.ID); err != nil {
		t.Fatalf("resolve pass: %v", err)
	}

	subStep := store.stepByStepID(t, inst.ID, "sub")
	if subStep.ChildInstanceID == nil {
		t.Fatal("subworkflow step should have spawned a child instance")
	}

	if err := orch.CancelInstance(ctx, inst.ID, "operator request"); err != nil {
		t.Fatalf("cancel instance: %v", err)
	}

	if got := store.instance(t, inst.ID); got.Status != domain.InstanceStatusCancelled {
		t.Fatalf("expected parent CANCELLED, got %s", got.Status)
	}
	if got := store.instance(t, *subStep.ChildInstanceID); got.Status != domain.InstanceStatusCancelled {
		t.Fatalf("expected child CANCELLED, got %s", got.Status)
	}
	for _, stepID := range []string{"prep", "sub"} {
		if step := store.stepByStepID(t, inst.ID, stepID); !step.IsFinished() {
			t.Errorf("step %s must be terminal after cancel, got %s", stepID, step.Status)
		}
	}
	if step := store.stepByStepID(t, *subStep.ChildInstanceID, "work"); !step.IsFinished() {
		t.Errorf("child step must be terminal after cancel, got %s", step.Status)
	}
	if n := store.activeTasks(); n != 0 {
		t.Errorf("no active tasks may survive the cancel cascade, got %d", n)
	}
	if n := store.countEvents(uuid.Nil, domain.AuditInstanceCancelled); n != 2 {
		t.Errorf("expected 2 instance_cancelled events, got %d", n)
	}
}

// Конкурентные проходы sweeper'а (две реплики): переход по таймауту
// выполняется ровно один раз, дубликат проигрывает CAS и молчит.
func TestOrchestrator_TimeoutStepExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	def := store.seedDefinition("slow-flow", domain.DefinitionGraph{Steps: []domain.StepSpec{
		{ID: "slow", Type: domain.StepTypeTask, Team: "ops", Action: "dig", TimeoutSec: 60},
	}})
	orch := newMemOrchestrator(store)

	inst, err := orch.CreateInstance(ctx, CreateInstanceParams{DefinitionID: def.ID})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if err := orch.ResolvePass(ctx, inst.ID); err != nil {
		t.Fatalf("resolve pass: %v", err)
	}

	step := store.stepByStepID(t, inst.ID, "slow")
	past := time.Now().Add(-time.Minute)
	step.Deadline = &past
	store.forceStep(step)

	if err := orch.TimeoutStep(ctx, step.ID); err != nil {
		t.Fatalf("first timeout pass: %v", err)
	}
	if err := orch.TimeoutStep(ctx, step.ID); err != nil {
		t.Fatalf("duplicate timeout pass: %v", err)
	}

	if n := store.countEvents(inst.ID, domain.AuditStepTimedOut); n != 1 {
		t.Errorf("expected exactly 1 step_timed_out event, got %d", n)
	}
	if n := store.countEvents(inst.ID, domain.AuditInstanceFailed); n != 1 {
		t.Errorf("expected exactly 1 instance_failed event, got %d", n)
	}
	if n := store.activeTasks(); n != 0 {
		t.Errorf("timed out step must not leave active tasks, got %d", n)
	}
}

// Истёкший дедлайн instance, обнаруженный через таймаут шага
// (дедлайн шага срезан дедлайном instance, проход по шагам идёт
// первым): instance финализируется как TIMED_OUT, не FAILED.
func TestOrchestrator_InstanceDeadlineSurfacesAsTimedOut(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	def := store.seedDefinition("deadline-flow", domain.DefinitionGraph{
		TimeoutSec: 3600,
		Steps: []domain.StepSpec{
			{ID: "work", Type: domain.StepTypeTask, Team: "ops", Action: "do_work"},
		},
	})
	orch := newMemOrchestrator(store)

	inst, err := orch.CreateInstance(ctx, CreateInstanceParams{DefinitionID: def.ID})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if err := orch.ResolvePass(ctx, inst.ID); err != nil {
		t.Fatalf("resolve pass: %v", err)
	}

	past := time.Now().Add(-time.Minute)
	store.forceInstanceDeadline(inst.ID, past)
	step := store.stepByStepID(t, inst.ID, "work")
	step.Deadline = &past
	store.forceStep(step)

	// Проход по шагам идёт первым и добирается до instance раньше
	// прохода по instances
	if err := orch.TimeoutStep(ctx, step.ID); err != nil {
		t.Fatalf("timeout step: %v", err)
	}
	if err := orch.TimeoutInstance(ctx, inst.ID); err != nil {
		t.Fatalf("timeout instance: %v", err)
	}

	got := store.instance(t, inst.ID)
	if got.Status != domain.InstanceStatusTimedOut {
		t.Fatalf("expected TIMED_OUT, got %s (%s)", got.Status, got.Reason)
	}
	if n := store.countEvents(inst.ID, domain.AuditInstanceTimedOut); n != 1 {
		t.Errorf("expected exactly 1 instance_timed_out event, got %d", n)
	}
	if n := store.countEvents(inst.ID, domain.AuditInstanceFailed); n != 0 {
		t.Errorf("deadline expiry must not surface as instance_failed, got %d", n)
	}
}
