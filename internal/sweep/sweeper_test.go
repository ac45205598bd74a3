package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
)

func TestNew_Defaults(t *testing.T) {
	s := New(Config{})

	if s.interval != defaultInterval {
		t.Errorf("expected default interval %v, got %v", defaultInterval, s.interval)
	}
	if s.batchSize != defaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", defaultBatchSize, s.batchSize)
	}
	if s.logger == nil {
		t.Error("logger should be defaulted")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	s := New(Config{
		Interval:  5 * time.Second,
		BatchSize: 10,
	})

	if s.interval != 5*time.Second {
		t.Errorf("expected interval 5s, got %v", s.interval)
	}
	if s.batchSize != 10 {
		t.Errorf("expected batch size 10, got %d", s.batchSize)
	}
}

type fakeStepSource struct{ steps []domain.StepExecution }

func (f fakeStepSource) ListDeadlineExpired(context.Context, time.Time, int) ([]domain.StepExecution, error) {
	return f.steps, nil
}

type fakeInstanceSource struct{ instances []domain.WorkflowInstance }

func (f fakeInstanceSource) ListDeadlineExpired(context.Context, time.Time, int) ([]domain.WorkflowInstance, error) {
	return f.instances, nil
}

// recordingTimeouts пишет порядок переходов; failStep имитирует
// ошибку обработки одного из шагов.
type recordingTimeouts struct {
	calls    []string
	failStep uuid.UUID
}

func (r *recordingTimeouts) TimeoutStep(_ context.Context, stepID uuid.UUID) error {
	r.calls = append(r.calls, "step")
	if stepID == r.failStep {
		return errors.New("step is gone")
	}
	return nil
}

func (r *recordingTimeouts) TimeoutInstance(context.Context, uuid.UUID) error {
	r.calls = append(r.calls, "instance")
	return nil
}

func TestSweep_StepsBeforeInstances(t *testing.T) {
	rec := &recordingTimeouts{}
	s := New(Config{
		Steps: fakeStepSource{steps: []domain.StepExecution{
			{ID: uuid.New()}, {ID: uuid.New()},
		}},
		Instances: fakeInstanceSource{instances: []domain.WorkflowInstance{
			{ID: uuid.New()},
		}},
		Orchestrator: rec,
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	want := []string{"step", "step", "instance"}
	if len(rec.calls) != len(want) {
		t.Fatalf("expected %d timeout calls, got %v", len(want), rec.calls)
	}
	for i, call := range want {
		if rec.calls[i] != call {
			t.Fatalf("call %d: expected %s, got %v", i, call, rec.calls)
		}
	}
}

func TestSweep_StepErrorDoesNotBlockOthers(t *testing.T) {
	broken := uuid.New()
	rec := &recordingTimeouts{failStep: broken}
	s := New(Config{
		Steps: fakeStepSource{steps: []domain.StepExecution{
			{ID: broken}, {ID: uuid.New()},
		}},
		Instances:    fakeInstanceSource{},
		Orchestrator: rec,
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep must not fail on a single step error: %v", err)
	}
	if len(rec.calls) != 2 {
		t.Errorf("expected both steps attempted, got %d calls", len(rec.calls))
	}
}
