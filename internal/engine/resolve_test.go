package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
)

func stepExec(stepID string, status domain.StepStatus, deps ...domain.DependencyEdge) domain.StepExecution {
	return domain.StepExecution{
		ID:         uuid.New(),
		InstanceID: uuid.Nil,
		StepID:     stepID,
		Type:       domain.StepTypeTask,
		Status:     status,
		DependsOn:  deps,
	}
}

func fs(onStep string) domain.DependencyEdge {
	return domain.DependencyEdge{OnStep: onStep}
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestResolve_NoDepsReadyImmediately(t *testing.T) {
	a := stepExec("a", domain.StepStatusPending)

	ready := Resolve([]domain.StepExecution{a})

	if len(ready) != 1 || ready[0] != a.ID {
		t.Errorf("step without deps should be a ready candidate, got %v", ready)
	}
}

func TestResolve_FinishToStart(t *testing.T) {
	tests := []struct {
		name      string
		depStatus domain.StepStatus
		wantReady bool
	}{
		{"pending predecessor", domain.StepStatusPending, false},
		{"ready predecessor", domain.StepStatusReady, false},
		{"running predecessor", domain.StepStatusRunning, false},
		{"failed predecessor", domain.StepStatusFailed, false},
		{"completed predecessor", domain.StepStatusCompleted, true},
		{"skipped predecessor", domain.StepStatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := stepExec("a", tt.depStatus)
			b := stepExec("b", domain.StepStatusPending, fs("a"))

			ready := Resolve([]domain.StepExecution{a, b})

			if got := containsID(ready, b.ID); got != tt.wantReady {
				t.Errorf("ready=%v, want %v", got, tt.wantReady)
			}
		})
	}
}

func TestResolve_StartToStart(t *testing.T) {
	a := stepExec("a", domain.StepStatusRunning)
	b := stepExec("b", domain.StepStatusPending,
		domain.DependencyEdge{OnStep: "a", Type: domain.DepStartToStart})

	ready := Resolve([]domain.StepExecution{a, b})

	if !containsID(ready, b.ID) {
		t.Error("start-to-start should be satisfied by a running predecessor")
	}

	// Предшественник ещё не стартовал — не готов
	a.Status = domain.StepStatusReady
	ready = Resolve([]domain.StepExecution{a, b})
	if containsID(ready, b.ID) {
		t.Error("start-to-start must not be satisfied before predecessor starts")
	}
}

func TestResolve_FinishGatingEdgesDoNotBlockStart(t *testing.T) {
	a := stepExec("a", domain.StepStatusPending)
	b := stepExec("b", domain.StepStatusPending,
		domain.DependencyEdge{OnStep: "a", Type: domain.DepFinishToFinish})

	ready := Resolve([]domain.StepExecution{a, b})

	if !containsID(ready, b.ID) {
		t.Error("finish-to-finish edge must not gate readiness")
	}
}

func TestResolve_NonBlockingEdgeIgnored(t *testing.T) {
	a := stepExec("a", domain.StepStatusPending)
	b := stepExec("b", domain.StepStatusPending,
		domain.DependencyEdge{OnStep: "a", NonBlocking: true})

	ready := Resolve([]domain.StepExecution{a, b})

	if !containsID(ready, b.ID) {
		t.Error("non-blocking edge must not gate readiness")
	}
}

func TestResolve_AllBlockingEdgesRequired(t *testing.T) {
	a := stepExec("a", domain.StepStatusCompleted)
	b := stepExec("b", domain.StepStatusRunning)
	c := stepExec("c", domain.StepStatusPending, fs("a"), fs("b"))

	ready := Resolve([]domain.StepExecution{a, b, c})

	if containsID(ready, c.ID) {
		t.Error("step must wait for all blocking edges")
	}
}

func TestResolve_Idempotent(t *testing.T) {
	a := stepExec("a", domain.StepStatusCompleted)
	b := stepExec("b", domain.StepStatusPending, fs("a"))
	c := stepExec("c", domain.StepStatusPending, fs("b"))
	steps := []domain.StepExecution{a, b, c}

	first := Resolve(steps)
	second := Resolve(steps)

	if len(first) != len(second) {
		t.Fatalf("resolve not idempotent: %d vs %d candidates", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("candidate %d differs: %s vs %s", i, first[i], second[i])
		}
	}
	if len(first) != 1 || first[0] != b.ID {
		t.Errorf("expected only 'b' ready, got %v", first)
	}
}

func TestResolve_SkipsNonPending(t *testing.T) {
	a := stepExec("a", domain.StepStatusReady)
	b := stepExec("b", domain.StepStatusRunning)
	c := stepExec("c", domain.StepStatusCompleted)

	ready := Resolve([]domain.StepExecution{a, b, c})

	if len(ready) != 0 {
		t.Errorf("only PENDING steps are candidates, got %v", ready)
	}
}

func TestResolveCompletions_FinishToFinish(t *testing.T) {
	a := stepExec("a", domain.StepStatusRunning)
	b := stepExec("b", domain.StepStatusRunning,
		domain.DependencyEdge{OnStep: "a", Type: domain.DepFinishToFinish})
	b.OutputData = map[string]any{"x": 1} // работа сделана, завершение удержано

	done := ResolveCompletions([]domain.StepExecution{a, b})
	if len(done) != 0 {
		t.Error("completion must be held while FF predecessor is running")
	}

	a.Status = domain.StepStatusCompleted
	done = ResolveCompletions([]domain.StepExecution{a, b})
	if !containsID(done, b.ID) {
		t.Error("completion must be released once FF predecessor completes")
	}
}

func TestResolveCompletions_RequiresRecordedOutput(t *testing.T) {
	a := stepExec("a", domain.StepStatusCompleted)
	b := stepExec("b", domain.StepStatusRunning,
		domain.DependencyEdge{OnStep: "a", Type: domain.DepFinishToFinish})
	// OutputData == nil: работа ещё не выполнена

	done := ResolveCompletions([]domain.StepExecution{a, b})
	if len(done) != 0 {
		t.Error("step without recorded output is not a completion candidate")
	}
}

func TestCompletionBlocked_StartToFinish(t *testing.T) {
	a := stepExec("a", domain.StepStatusPending)
	b := stepExec("b", domain.StepStatusRunning,
		domain.DependencyEdge{OnStep: "a", Type: domain.DepStartToFinish})

	byID := indexByStepID([]domain.StepExecution{a, b})
	if !CompletionBlocked(&b, byID) {
		t.Error("start-to-finish must hold completion until predecessor starts")
	}

	a.Status = domain.StepStatusRunning
	byID = indexByStepID([]domain.StepExecution{a, b})
	if CompletionBlocked(&b, byID) {
		t.Error("start-to-finish satisfied once predecessor is running")
	}
}

func TestSkipCascade(t *testing.T) {
	// cond → b → c, независимый x
	cond := stepExec("cond", domain.StepStatusSkipped)
	b := stepExec("b", domain.StepStatusPending, fs("cond"))
	c := stepExec("c", domain.StepStatusPending, fs("b"))
	x := stepExec("x", domain.StepStatusPending)

	skipped := SkipCascade([]domain.StepExecution{cond, b, c, x}, "cond")

	if !containsID(skipped, b.ID) || !containsID(skipped, c.ID) {
		t.Errorf("dependents of false condition must be skipped, got %v", skipped)
	}
	if containsID(skipped, x.ID) {
		t.Error("independent step must not be skipped")
	}
}

func TestSkipCascade_AlternativePathSurvives(t *testing.T) {
	// d зависит и от cond-ветки, и от независимого a:
	// блокирующий путь через a не пропущен, поэтому d остаётся PENDING.
	cond := stepExec("cond", domain.StepStatusSkipped)
	a := stepExec("a", domain.StepStatusRunning)
	d := stepExec("d", domain.StepStatusPending, fs("cond"), fs("a"))

	skipped := SkipCascade([]domain.StepExecution{cond, a, d}, "cond")

	if containsID(skipped, d.ID) {
		t.Error("step with an unsatisfied independent path must not be skipped")
	}
}

func TestComputeOutcome(t *testing.T) {
	tests := []struct {
		name  string
		steps []domain.StepExecution
		want  InstanceOutcome
	}{
		{
			name: "all completed",
			steps: []domain.StepExecution{
				stepExec("a", domain.StepStatusCompleted),
				stepExec("b", domain.StepStatusSkipped),
			},
			want: OutcomeCompleted,
		},
		{
			name: "still running",
			steps: []domain.StepExecution{
				stepExec("a", domain.StepStatusCompleted),
				stepExec("b", domain.StepStatusRunning),
			},
			want: OutcomeInProgress,
		},
		{
			name: "required step failed",
			steps: []domain.StepExecution{
				stepExec("a", domain.StepStatusFailed),
				stepExec("b", domain.StepStatusRunning),
			},
			want: OutcomeFailed,
		},
		{
			name: "required step timed out",
			steps: []domain.StepExecution{
				stepExec("a", domain.StepStatusTimedOut),
			},
			want: OutcomeFailed,
		},
		{
			// Окно между фиксацией падения и сбросом в READY:
			// retry бюджет не израсходован, instance продолжается.
			name: "required step failed with retry budget left",
			steps: func() []domain.StepExecution {
				a := stepExec("a", domain.StepStatusFailed)
				a.RetryCount = 0
				a.MaxRetries = 2
				return []domain.StepExecution{a}
			}(),
			want: OutcomeInProgress,
		},
		{
			name: "required step failed after exhausting retries",
			steps: func() []domain.StepExecution {
				a := stepExec("a", domain.StepStatusFailed)
				a.RetryCount = 2
				a.MaxRetries = 2
				return []domain.StepExecution{a}
			}(),
			want: OutcomeFailed,
		},
		{
			// Таймаут retry не расходует: TIMED_OUT терминален
			// даже при неизрасходованном бюджете.
			name: "required step timed out with retry budget left",
			steps: func() []domain.StepExecution {
				a := stepExec("a", domain.StepStatusTimedOut)
				a.MaxRetries = 2
				return []domain.StepExecution{a}
			}(),
			want: OutcomeFailed,
		},
		{
			name: "optional step failed",
			steps: func() []domain.StepExecution {
				a := stepExec("a", domain.StepStatusFailed)
				a.Optional = true
				return []domain.StepExecution{a, stepExec("b", domain.StepStatusCompleted)}
			}(),
			want: OutcomeCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeOutcome(tt.steps); got != tt.want {
				t.Errorf("ComputeOutcome() = %v, want %v", got, tt.want)
			}
		})
	}
}
