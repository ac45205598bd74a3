package orchestrator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
)

// --- Orchestrator Tests ---

func TestNew(t *testing.T) {
	orch := New(Config{})

	if orch.pollInterval != defaultPollInterval {
		t.Errorf("expected default poll interval %v, got %v", defaultPollInterval, orch.pollInterval)
	}
	if orch.batchSize != defaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", defaultBatchSize, orch.batchSize)
	}
	if orch.logger == nil {
		t.Error("logger should be defaulted")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	orch := New(Config{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
	})

	if orch.pollInterval != 5*time.Second {
		t.Errorf("expected poll interval 5s, got %v", orch.pollInterval)
	}
	if orch.batchSize != 50 {
		t.Errorf("expected batch size 50, got %d", orch.batchSize)
	}
}

func TestOrchestrator_IsStopped(t *testing.T) {
	orch := New(Config{})

	if orch.IsStopped() {
		t.Error("should not be stopped initially")
	}

	orch.stoppedMu.Lock()
	orch.stopped = true
	orch.stoppedMu.Unlock()

	if !orch.IsStopped() {
		t.Error("should be stopped")
	}
}

// --- Task building ---

func TestNewTeamTask(t *testing.T) {
	inst := &domain.WorkflowInstance{
		ID:       uuid.New(),
		Priority: 7,
		Context:  map[string]any{"order_id": "ord-1"},
	}
	step := &domain.StepExecution{
		ID:           uuid.New(),
		InstanceID:   inst.ID,
		StepID:       "review",
		AssignedTeam: "fraud",
		Action:       "manual_review",
		InputData:    map[string]any{"threshold": 100},
	}

	task := newTeamTask(inst, step, 1)

	if task.StepExecutionID != step.ID {
		t.Error("task should reference step execution")
	}
	if task.InstanceID != inst.ID {
		t.Error("task should reference instance")
	}
	if task.Team != "fraud" {
		t.Errorf("expected team fraud, got %s", task.Team)
	}
	if task.Action != "manual_review" {
		t.Errorf("expected action manual_review, got %s", task.Action)
	}
	if task.Priority != 7 {
		t.Errorf("priority should be inherited from instance, got %d", task.Priority)
	}
	if task.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", task.Attempt)
	}
	if task.Status != domain.TaskStatusPending {
		t.Errorf("expected PENDING, got %s", task.Status)
	}
	if task.Input["threshold"] != 100 {
		t.Error("task input should include step input data")
	}
	taskCtx, ok := task.Input["context"].(map[string]any)
	if !ok {
		t.Fatal("task input should include context snapshot")
	}
	if taskCtx["order_id"] != "ord-1" {
		t.Error("context snapshot should carry instance context")
	}
}

func TestNewTeamTask_NoContext(t *testing.T) {
	inst := &domain.WorkflowInstance{ID: uuid.New()}
	step := &domain.StepExecution{ID: uuid.New(), AssignedTeam: "ops"}

	task := newTeamTask(inst, step, 2)

	if _, ok := task.Input["context"]; ok {
		t.Error("nil instance context should not appear in task input")
	}
	if task.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", task.Attempt)
	}
}

func TestTaskDeadline(t *testing.T) {
	early := time.Now().Add(time.Hour)
	late := time.Now().Add(2 * time.Hour)

	tests := []struct {
		name     string
		step     *time.Time
		instance *time.Time
		want     *time.Time
	}{
		{"both nil", nil, nil, nil},
		{"only step", &early, nil, &early},
		{"only instance", nil, &late, &late},
		{"step earlier", &early, &late, &early},
		{"instance earlier", &late, &early, &early},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := taskDeadline(tt.step, tt.instance)
			if got != tt.want && (got == nil || tt.want == nil || !got.Equal(*tt.want)) {
				t.Errorf("taskDeadline() = %v, want %v", got, tt.want)
			}
		})
	}
}

// --- Resolver helpers ---

func TestIndexSpecs(t *testing.T) {
	graph := &domain.DefinitionGraph{
		Steps: []domain.StepSpec{
			{ID: "a", Type: domain.StepTypeTask, TimeoutSec: 30},
			{ID: "b", Type: domain.StepTypeCondition},
		},
	}

	specs := indexSpecs(graph)

	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs["a"] == nil || specs["a"].TimeoutSec != 30 {
		t.Error("spec a should be indexed with its timeout")
	}
	if specs["missing"] != nil {
		t.Error("unknown step should resolve to nil")
	}
}

func TestSpecTimeout(t *testing.T) {
	if specTimeout(nil) != 0 {
		t.Error("nil spec should have zero timeout")
	}
	if specTimeout(&domain.StepSpec{TimeoutSec: 45}) != 45 {
		t.Error("spec timeout should be returned")
	}
}

func TestFindStep(t *testing.T) {
	steps := []domain.StepExecution{
		{ID: uuid.New(), StepID: "a"},
		{ID: uuid.New(), StepID: "b"},
	}

	if got := findStep(steps, steps[1].ID); got == nil || got.StepID != "b" {
		t.Error("findStep should locate step by execution id")
	}
	if findStep(steps, uuid.New()) != nil {
		t.Error("unknown id should resolve to nil")
	}
}

func TestFailureReason(t *testing.T) {
	steps := []domain.StepExecution{
		{StepID: "ok", Status: domain.StepStatusCompleted},
		{StepID: "opt", Status: domain.StepStatusFailed, Optional: true, Error: "ignored"},
		{StepID: "bad", Status: domain.StepStatusFailed, Error: "boom"},
	}

	got := failureReason(steps)
	want := "step bad: boom"
	if got != want {
		t.Errorf("failureReason() = %q, want %q", got, want)
	}
}

func TestFailureReason_TimedOut(t *testing.T) {
	steps := []domain.StepExecution{
		{StepID: "slow", Status: domain.StepStatusTimedOut, Error: "deadline exceeded"},
	}

	got := failureReason(steps)
	if got != "step slow: deadline exceeded" {
		t.Errorf("failureReason() = %q", got)
	}
}
