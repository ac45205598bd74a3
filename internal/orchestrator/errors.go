package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrDefinitionNotActive — definition не в статусе ACTIVE.
	ErrDefinitionNotActive = errors.New("definition is not active")

	// ErrMaxNestingDepthExceeded — превышен потолок вложенности sub-workflow.
	ErrMaxNestingDepthExceeded = errors.New("max nesting depth exceeded")

	// ErrInstanceNotFound — instance не найден в БД.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceFinished — instance уже в терминальном статусе.
	ErrInstanceFinished = errors.New("instance already finished")

	// ErrInstanceNotRunning — операция требует статуса RUNNING.
	ErrInstanceNotRunning = errors.New("instance is not running")

	// ErrInstanceNotPaused — resume требует статуса PAUSED.
	ErrInstanceNotPaused = errors.New("instance is not paused")

	// ErrStepNotFound — step execution не найден.
	ErrStepNotFound = errors.New("step execution not found")

	// ErrStepNotApproval — approve применим только к APPROVAL шагам.
	ErrStepNotApproval = errors.New("step is not an approval step")

	// ErrTaskNotFound — task не найден.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAlreadyClaimed — task уже захвачен другим участником.
	ErrAlreadyClaimed = errors.New("task already claimed")

	// ErrTaskNotActive — task уже завершён, результат не принимается.
	ErrTaskNotActive = errors.New("task is not active")
)
