package engine

import (
	"fmt"

	"github.com/shaiso/Hive/internal/domain"
)

// stepTransitions — машина состояний step execution.
// Каждая запись: текущий статус → допустимые следующие.
var stepTransitions = map[domain.StepStatus][]domain.StepStatus{
	domain.StepStatusPending: {
		domain.StepStatusReady,
		domain.StepStatusSkipped,
		domain.StepStatusCancelled,
		domain.StepStatusTimedOut,
	},
	domain.StepStatusReady: {
		domain.StepStatusRunning,
		domain.StepStatusSkipped,
		domain.StepStatusCancelled,
		domain.StepStatusTimedOut,
	},
	domain.StepStatusRunning: {
		domain.StepStatusCompleted,
		domain.StepStatusFailed,
		domain.StepStatusCancelled,
		domain.StepStatusTimedOut,
	},
	// retry: FAILED → READY (единственный выход из FAILED)
	domain.StepStatusFailed: {
		domain.StepStatusReady,
	},
}

// instanceTransitions — машина состояний workflow instance.
var instanceTransitions = map[domain.InstanceStatus][]domain.InstanceStatus{
	domain.InstanceStatusInitializing: {
		domain.InstanceStatusRunning,
		domain.InstanceStatusFailed,
		domain.InstanceStatusCancelled,
		domain.InstanceStatusTimedOut,
	},
	domain.InstanceStatusRunning: {
		domain.InstanceStatusPaused,
		domain.InstanceStatusCompleted,
		domain.InstanceStatusFailed,
		domain.InstanceStatusCancelled,
		domain.InstanceStatusTimedOut,
	},
	domain.InstanceStatusPaused: {
		domain.InstanceStatusRunning,
		domain.InstanceStatusCancelled,
		domain.InstanceStatusTimedOut,
	},
}

// ValidStepTransition проверяет допустимость перехода шага.
func ValidStepTransition(from, to domain.StepStatus) bool {
	for _, next := range stepTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidInstanceTransition проверяет допустимость перехода instance.
func ValidInstanceTransition(from, to domain.InstanceStatus) bool {
	for _, next := range instanceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckStepTransition возвращает ошибку для недопустимого перехода шага.
func CheckStepTransition(from, to domain.StepStatus) error {
	if from.IsTerminal() && from != domain.StepStatusFailed {
		return fmt.Errorf("%w: step is %s", ErrAlreadyTerminal, from)
	}
	if !ValidStepTransition(from, to) {
		return fmt.Errorf("%w: step %s → %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CheckInstanceTransition возвращает ошибку для недопустимого перехода instance.
func CheckInstanceTransition(from, to domain.InstanceStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: instance is %s", ErrAlreadyTerminal, from)
	}
	if !ValidInstanceTransition(from, to) {
		return fmt.Errorf("%w: instance %s → %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// FailureAction — решение после падения или таймаута шага.
type FailureAction int

const (
	// ActionRetry — у шага остались retry: вернуть в READY.
	ActionRetry FailureAction = iota

	// ActionSkip — шаг optional: пометить SKIPPED, instance продолжается.
	ActionSkip

	// ActionFailInstance — обязательный шаг исчерпал retry:
	// instance падает, нетерминальные шаги отменяются.
	ActionFailInstance
)

// DecideFailure возвращает действие после падения шага.
// Таймауты в retry не уходят.
func DecideFailure(step *domain.StepExecution, timedOut bool) FailureAction {
	if !timedOut && step.CanRetry() {
		return ActionRetry
	}
	if step.Optional {
		return ActionSkip
	}
	return ActionFailInstance
}

// StepAuditType возвращает тип записи аудита для перехода шага.
func StepAuditType(to domain.StepStatus) domain.AuditEventType {
	switch to {
	case domain.StepStatusReady:
		return domain.AuditStepReady
	case domain.StepStatusRunning:
		return domain.AuditStepRunning
	case domain.StepStatusCompleted:
		return domain.AuditStepCompleted
	case domain.StepStatusFailed:
		return domain.AuditStepFailed
	case domain.StepStatusSkipped:
		return domain.AuditStepSkipped
	case domain.StepStatusCancelled:
		return domain.AuditStepCancelled
	case domain.StepStatusTimedOut:
		return domain.AuditStepTimedOut
	default:
		return domain.AuditEventType("step_" + string(to))
	}
}

// InstanceAuditType возвращает тип записи аудита для перехода instance.
func InstanceAuditType(to domain.InstanceStatus) domain.AuditEventType {
	switch to {
	case domain.InstanceStatusRunning:
		return domain.AuditInstanceRunning
	case domain.InstanceStatusPaused:
		return domain.AuditInstancePaused
	case domain.InstanceStatusCompleted:
		return domain.AuditInstanceCompleted
	case domain.InstanceStatusFailed:
		return domain.AuditInstanceFailed
	case domain.InstanceStatusCancelled:
		return domain.AuditInstanceCancelled
	case domain.InstanceStatusTimedOut:
		return domain.AuditInstanceTimedOut
	default:
		return domain.AuditEventType("instance_" + string(to))
	}
}
