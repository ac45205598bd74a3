package engine

import (
	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
)

// Resolve — чистая функция разрешения зависимостей.
//
// По текущим строкам step executions одного instance возвращает ID
// шагов-кандидатов на переход PENDING → READY: все блокирующие рёбра,
// ограничивающие старт, удовлетворены.
//
// Семантика по типам рёбер:
//   - finish-to-start: предшественник COMPLETED или SKIPPED
//   - start-to-start:  предшественник RUNNING или дальше
//   - finish-to-finish / start-to-finish: старт не ограничивают
//     (см. ResolveCompletions)
//
// Функция только читает состояние и идемпотентна: повторный вызов
// на неизменных строках даёт тот же набор кандидатов. Фактический
// переход в READY — отдельная CAS запись, обусловленная текущим
// статусом PENDING, поэтому Resolve безопасно гонять из любого
// числа воркеров.
func Resolve(steps []domain.StepExecution) []uuid.UUID {
	byStepID := indexByStepID(steps)

	var ready []uuid.UUID
	for i := range steps {
		step := &steps[i]
		if step.Status != domain.StepStatusPending {
			continue
		}
		if startBlocked(step, byStepID) {
			continue
		}
		ready = append(ready, step.ID)
	}
	return ready
}

// ResolveCompletions возвращает ID шагов, чьё завершение удерживалось
// finish-to-finish / start-to-finish рёбрами и теперь разблокировано.
//
// Кандидат — шаг в RUNNING с уже записанным результатом (OutputData
// не nil: работа сделана, завершение отложено).
func ResolveCompletions(steps []domain.StepExecution) []uuid.UUID {
	byStepID := indexByStepID(steps)

	var done []uuid.UUID
	for i := range steps {
		step := &steps[i]
		if step.Status != domain.StepStatusRunning || step.OutputData == nil {
			continue
		}
		if CompletionBlocked(step, byStepID) {
			continue
		}
		done = append(done, step.ID)
	}
	return done
}

// CompletionBlocked проверяет, удерживают ли finish-gating рёбра
// завершение шага:
//   - finish-to-finish: предшественник должен быть COMPLETED/SKIPPED
//   - start-to-finish:  предшественник должен начать выполнение
func CompletionBlocked(step *domain.StepExecution, byStepID map[string]*domain.StepExecution) bool {
	for _, edge := range step.DependsOn {
		if !edge.IsBlocking() || !edge.EffectiveType().GatesFinish() {
			continue
		}
		dep, ok := byStepID[edge.OnStep]
		if !ok {
			// Материализация гарантирует наличие строки; отсутствие
			// трактуем как неудовлетворённое ребро.
			return true
		}
		switch edge.EffectiveType() {
		case domain.DepFinishToFinish:
			if !dep.Status.IsSatisfied() {
				return true
			}
		case domain.DepStartToFinish:
			if !dep.Status.HasStarted() {
				return true
			}
		}
	}
	return false
}

// SkipCascade возвращает ID шагов, которые должны быть пропущены
// вслед за шагом fromStepID (CONDITION вычислился в false).
//
// Пропускаются транзитивные зависимые, у которых каждый блокирующий
// finish-to-start путь проходит через пропущенные шаги. Шаг с
// независимым удовлетворимым путём остаётся в PENDING.
func SkipCascade(steps []domain.StepExecution, fromStepID string) []uuid.UUID {
	byStepID := indexByStepID(steps)

	skippedBranch := map[string]bool{fromStepID: true}

	// Итерации до неподвижной точки: граф ацикличен и мал.
	for changed := true; changed; {
		changed = false
		for i := range steps {
			step := &steps[i]
			if step.Status != domain.StepStatusPending || skippedBranch[step.StepID] {
				continue
			}

			inBranch := false
			onlyBranch := true
			for _, edge := range step.DependsOn {
				if !edge.IsBlocking() || edge.EffectiveType() != domain.DepFinishToStart {
					continue
				}
				if skippedBranch[edge.OnStep] {
					inBranch = true
				} else if dep, ok := byStepID[edge.OnStep]; !ok || dep.Status != domain.StepStatusSkipped {
					onlyBranch = false
				}
			}

			if inBranch && onlyBranch {
				skippedBranch[step.StepID] = true
				changed = true
			}
		}
	}

	var ids []uuid.UUID
	for i := range steps {
		step := &steps[i]
		if step.StepID != fromStepID && skippedBranch[step.StepID] && step.Status == domain.StepStatusPending {
			ids = append(ids, step.ID)
		}
	}
	return ids
}

// InstanceOutcome — итог instance по состоянию его шагов.
type InstanceOutcome int

const (
	// OutcomeInProgress — есть нетерминальные шаги, instance продолжается.
	OutcomeInProgress InstanceOutcome = iota

	// OutcomeCompleted — все шаги терминальны, обязательные завершены
	// успешно или пропущены.
	OutcomeCompleted

	// OutcomeFailed — обязательный шаг FAILED или TIMED_OUT.
	OutcomeFailed
)

// ComputeOutcome вычисляет итог instance по строкам его шагов.
// Падение обязательного шага фиксируется сразу, не дожидаясь остальных.
//
// FAILED с неизрасходованным retry бюджетом — не приговор: это
// промежуточное состояние retry-лестницы (шаг зафиксирован упавшим,
// сброс в READY ещё впереди), instance продолжается.
func ComputeOutcome(steps []domain.StepExecution) InstanceOutcome {
	inProgress := false
	for i := range steps {
		step := &steps[i]
		switch step.Status {
		case domain.StepStatusFailed:
			if step.Optional {
				continue
			}
			if step.CanRetry() {
				inProgress = true
				continue
			}
			return OutcomeFailed
		case domain.StepStatusTimedOut:
			if !step.Optional {
				return OutcomeFailed
			}
		case domain.StepStatusCancelled:
			// Каскад отмены: итог решает инициатор отмены.
		default:
			if !step.Status.IsTerminal() {
				inProgress = true
			}
		}
	}
	if inProgress {
		return OutcomeInProgress
	}
	return OutcomeCompleted
}

// startBlocked проверяет блокирующие рёбра, ограничивающие старт шага.
func startBlocked(step *domain.StepExecution, byStepID map[string]*domain.StepExecution) bool {
	for _, edge := range step.DependsOn {
		if !edge.IsBlocking() || !edge.EffectiveType().GatesStart() {
			continue
		}
		dep, ok := byStepID[edge.OnStep]
		if !ok {
			return true
		}
		switch edge.EffectiveType() {
		case domain.DepFinishToStart:
			if !dep.Status.IsSatisfied() {
				return true
			}
		case domain.DepStartToStart:
			if !dep.Status.HasStarted() {
				return true
			}
		}
	}
	return false
}

// indexByStepID строит индекс stepID → строка.
func indexByStepID(steps []domain.StepExecution) map[string]*domain.StepExecution {
	m := make(map[string]*domain.StepExecution, len(steps))
	for i := range steps {
		m[steps[i].StepID] = &steps[i]
	}
	return m
}
