package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Hive/internal/domain"
)

func TestValidStepTransition(t *testing.T) {
	tests := []struct {
		from, to domain.StepStatus
		want     bool
	}{
		{domain.StepStatusPending, domain.StepStatusReady, true},
		{domain.StepStatusPending, domain.StepStatusRunning, false},
		{domain.StepStatusReady, domain.StepStatusRunning, true},
		{domain.StepStatusRunning, domain.StepStatusCompleted, true},
		{domain.StepStatusRunning, domain.StepStatusReady, false},
		{domain.StepStatusFailed, domain.StepStatusReady, true}, // retry
		{domain.StepStatusCompleted, domain.StepStatusRunning, false},
		{domain.StepStatusReady, domain.StepStatusTimedOut, true},
		{domain.StepStatusRunning, domain.StepStatusTimedOut, true},
		{domain.StepStatusCancelled, domain.StepStatusReady, false},
	}

	for _, tt := range tests {
		if got := ValidStepTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidStepTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidInstanceTransition(t *testing.T) {
	tests := []struct {
		from, to domain.InstanceStatus
		want     bool
	}{
		{domain.InstanceStatusInitializing, domain.InstanceStatusRunning, true},
		{domain.InstanceStatusRunning, domain.InstanceStatusCompleted, true},
		{domain.InstanceStatusRunning, domain.InstanceStatusPaused, true},
		{domain.InstanceStatusPaused, domain.InstanceStatusRunning, true},
		{domain.InstanceStatusPaused, domain.InstanceStatusCompleted, false},
		{domain.InstanceStatusCompleted, domain.InstanceStatusRunning, false},
		{domain.InstanceStatusRunning, domain.InstanceStatusTimedOut, true},
		{domain.InstanceStatusInitializing, domain.InstanceStatusCompleted, false},
	}

	for _, tt := range tests {
		if got := ValidInstanceTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidInstanceTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCheckStepTransition_Terminal(t *testing.T) {
	err := CheckStepTransition(domain.StepStatusCancelled, domain.StepStatusReady)
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}

	// FAILED терминален, но допускает retry-переход
	if err := CheckStepTransition(domain.StepStatusFailed, domain.StepStatusReady); err != nil {
		t.Errorf("FAILED → READY (retry) must be allowed, got %v", err)
	}
}

func TestCheckInstanceTransition_Invalid(t *testing.T) {
	err := CheckInstanceTransition(domain.InstanceStatusRunning, domain.InstanceStatusInitializing)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	err = CheckInstanceTransition(domain.InstanceStatusCompleted, domain.InstanceStatusRunning)
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestDecideFailure(t *testing.T) {
	tests := []struct {
		name     string
		step     domain.StepExecution
		timedOut bool
		want     FailureAction
	}{
		{
			name: "retries remain",
			step: domain.StepExecution{RetryCount: 1, MaxRetries: 2},
			want: ActionRetry,
		},
		{
			name: "retries exhausted, required",
			step: domain.StepExecution{RetryCount: 2, MaxRetries: 2},
			want: ActionFailInstance,
		},
		{
			name: "retries exhausted, optional",
			step: domain.StepExecution{RetryCount: 2, MaxRetries: 2, Optional: true},
			want: ActionSkip,
		},
		{
			name:     "timeout never retries",
			step:     domain.StepExecution{RetryCount: 0, MaxRetries: 5},
			timedOut: true,
			want:     ActionFailInstance,
		},
		{
			name:     "timeout of optional step skips",
			step:     domain.StepExecution{RetryCount: 0, MaxRetries: 5, Optional: true},
			timedOut: true,
			want:     ActionSkip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecideFailure(&tt.step, tt.timedOut); got != tt.want {
				t.Errorf("DecideFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryLadder(t *testing.T) {
	// Шаг с max_retries=2: падает дважды, успех с третьей попытки.
	step := domain.StepExecution{
		Status:     domain.StepStatusRunning,
		MaxRetries: 2,
	}

	// Первое падение
	step.MarkFailed("boom")
	if DecideFailure(&step, false) != ActionRetry {
		t.Fatal("first failure must retry")
	}
	step.ResetForRetry()
	if step.Status != domain.StepStatusReady || step.RetryCount != 1 {
		t.Fatalf("after first retry: status=%s retry_count=%d", step.Status, step.RetryCount)
	}

	// Второе падение
	step.MarkRunning()
	step.MarkFailed("boom again")
	if DecideFailure(&step, false) != ActionRetry {
		t.Fatal("second failure must retry")
	}
	step.ResetForRetry()
	if step.RetryCount != 2 {
		t.Fatalf("retry_count = %d, want 2", step.RetryCount)
	}

	// Третья попытка успешна
	step.MarkRunning()
	step.MarkCompleted(map[string]any{"ok": true})

	if step.Status != domain.StepStatusCompleted {
		t.Errorf("final status = %s, want COMPLETED", step.Status)
	}
	if step.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", step.RetryCount)
	}

	// Третье падение исчерпало бы retry
	exhausted := domain.StepExecution{RetryCount: 2, MaxRetries: 2}
	if DecideFailure(&exhausted, false) != ActionFailInstance {
		t.Error("third failure must fail the instance")
	}
}

func TestStepAuditType(t *testing.T) {
	if got := StepAuditType(domain.StepStatusCompleted); got != domain.AuditStepCompleted {
		t.Errorf("got %s", got)
	}
	if got := StepAuditType(domain.StepStatusTimedOut); got != domain.AuditStepTimedOut {
		t.Errorf("got %s", got)
	}
}

func TestInstanceAuditType(t *testing.T) {
	if got := InstanceAuditType(domain.InstanceStatusCompleted); got != domain.AuditInstanceCompleted {
		t.Errorf("got %s", got)
	}
	if got := InstanceAuditType(domain.InstanceStatusCancelled); got != domain.AuditInstanceCancelled {
		t.Errorf("got %s", got)
	}
}
