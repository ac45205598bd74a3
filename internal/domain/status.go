package domain

// InstanceStatus — статус выполнения workflow instance.
//
// Жизненный цикл:
//
//	INITIALIZING → RUNNING → COMPLETED
//	                       ↘ FAILED
//	                       ↘ CANCELLED
//	                       ↘ TIMED_OUT
//	             RUNNING ⇄ PAUSED (обратимая ветка)
type InstanceStatus string

const (
	// InstanceStatusInitializing — instance создан, шаги материализуются.
	InstanceStatusInitializing InstanceStatus = "INITIALIZING"

	// InstanceStatusRunning — instance в процессе выполнения.
	InstanceStatusRunning InstanceStatus = "RUNNING"

	// InstanceStatusPaused — выполнение приостановлено оператором.
	InstanceStatusPaused InstanceStatus = "PAUSED"

	// InstanceStatusCompleted — все обязательные шаги завершены успешно.
	InstanceStatusCompleted InstanceStatus = "COMPLETED"

	// InstanceStatusFailed — обязательный шаг упал после всех retry.
	InstanceStatusFailed InstanceStatus = "FAILED"

	// InstanceStatusCancelled — instance отменён (оператором или родителем).
	InstanceStatusCancelled InstanceStatus = "CANCELLED"

	// InstanceStatusTimedOut — дедлайн instance истёк.
	InstanceStatusTimedOut InstanceStatus = "TIMED_OUT"
)

// IsTerminal возвращает true, если статус финальный (instance завершён).
// Терминальный instance становится неизменяемым — только Audit Recorder
// может дописывать историю.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusCancelled, InstanceStatusTimedOut:
		return true
	default:
		return false
	}
}

// StepStatus — статус выполнения step execution.
//
// Жизненный цикл:
//
//	PENDING → READY → RUNNING → COMPLETED
//	                          ↘ FAILED → (retry → READY)
//	                          ↘ TIMED_OUT
//	любой нетерминальный → SKIPPED | CANCELLED
type StepStatus string

const (
	// StepStatusPending — шаг ждёт удовлетворения зависимостей.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusReady — все блокирующие зависимости удовлетворены,
	// шаг может быть отправлен команде.
	StepStatusReady StepStatus = "READY"

	// StepStatusRunning — задача шага захвачена командой и выполняется.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusCompleted — шаг успешно завершён.
	StepStatusCompleted StepStatus = "COMPLETED"

	// StepStatusFailed — шаг упал после всех retry.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — шаг пропущен (condition=false или optional после падения).
	StepStatusSkipped StepStatus = "SKIPPED"

	// StepStatusCancelled — шаг отменён (каскад от instance).
	StepStatusCancelled StepStatus = "CANCELLED"

	// StepStatusTimedOut — дедлайн шага истёк.
	StepStatusTimedOut StepStatus = "TIMED_OUT"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped, StepStatusCancelled, StepStatusTimedOut:
		return true
	default:
		return false
	}
}

// HasStarted возвращает true, если шаг начал выполнение (RUNNING или дальше).
// Используется для проверки start-to-start зависимостей.
func (s StepStatus) HasStarted() bool {
	return s == StepStatusRunning || s.IsTerminal()
}

// IsSatisfied возвращает true, если шаг удовлетворяет finish-to-start
// зависимость: завершён успешно или пропущен.
func (s StepStatus) IsSatisfied() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped
}

// TaskStatus — статус team task (одной попытки диспатча шага команде).
//
// Жизненный цикл:
//
//	PENDING → CLAIMED → IN_PROGRESS → COMPLETED
//	                                ↘ FAILED
//	любой активный → CANCELLED
type TaskStatus string

const (
	// TaskStatusPending — task в очереди, ждёт захвата командой.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusClaimed — task захвачен участником команды.
	TaskStatusClaimed TaskStatus = "CLAIMED"

	// TaskStatusInProgress — команда подтвердила начало работы.
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"

	// TaskStatusCompleted — команда успешно выполнила task.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — команда сообщила об ошибке.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusCancelled — task отменён (каскад от шага/instance).
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive возвращает true для статусов, участвующих в инварианте
// "не более одного активного task на step execution".
func (s TaskStatus) IsActive() bool {
	switch s {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusInProgress:
		return true
	default:
		return false
	}
}

// DefinitionStatus — статус workflow definition.
//
// Жизненный цикл:
//
//	DRAFT → ACTIVE → DEPRECATED → ARCHIVED
type DefinitionStatus string

const (
	// DefinitionStatusDraft — черновик, граф можно менять.
	DefinitionStatusDraft DefinitionStatus = "DRAFT"

	// DefinitionStatusActive — опубликована, граф неизменяем.
	// Изменения требуют новой версии.
	DefinitionStatusActive DefinitionStatus = "ACTIVE"

	// DefinitionStatusDeprecated — новые instances не создаются,
	// запущенные продолжают работать.
	DefinitionStatusDeprecated DefinitionStatus = "DEPRECATED"

	// DefinitionStatusArchived — выведена из эксплуатации.
	DefinitionStatusArchived DefinitionStatus = "ARCHIVED"
)

// DependencyType — временна́я связь между двумя шагами.
type DependencyType string

const (
	// DepFinishToStart — шаг стартует после завершения предшественника.
	// Самый распространённый тип (по умолчанию).
	DepFinishToStart DependencyType = "FINISH_TO_START"

	// DepStartToStart — шаг стартует после старта предшественника.
	DepStartToStart DependencyType = "START_TO_START"

	// DepFinishToFinish — шаг может завершиться только после
	// завершения предшественника.
	DepFinishToFinish DependencyType = "FINISH_TO_FINISH"

	// DepStartToFinish — шаг может завершиться только после
	// старта предшественника.
	DepStartToFinish DependencyType = "START_TO_FINISH"
)

// GatesStart возвращает true, если зависимость ограничивает старт шага.
func (d DependencyType) GatesStart() bool {
	return d == DepFinishToStart || d == DepStartToStart
}

// GatesFinish возвращает true, если зависимость ограничивает завершение шага.
func (d DependencyType) GatesFinish() bool {
	return d == DepFinishToFinish || d == DepStartToFinish
}

// StepType — тип шага в графе definition.
type StepType string

const (
	// StepTypeTask — обычный шаг: диспатчится команде как TeamTask.
	StepTypeTask StepType = "TASK"

	// StepTypeParallel — структурный шаг: точка разветвления,
	// завершается автоматически.
	StepTypeParallel StepType = "PARALLEL"

	// StepTypeSequence — структурный шаг: точка объединения цепочки,
	// завершается автоматически.
	StepTypeSequence StepType = "SEQUENCE"

	// StepTypeCondition — вычисляет выражение над контекстом instance;
	// false пропускает ветку.
	StepTypeCondition StepType = "CONDITION"

	// StepTypeLoop — повторяет task команде до done=true
	// или исчерпания лимита итераций.
	StepTypeLoop StepType = "LOOP"

	// StepTypeSubworkflow — запускает дочерний instance и ждёт
	// его терминального статуса.
	StepTypeSubworkflow StepType = "SUBWORKFLOW"

	// StepTypeApproval — требует заданного числа одобрений от команды.
	StepTypeApproval StepType = "APPROVAL"
)

// TriggerType — тип триггера, создающего instances.
type TriggerType string

const (
	// TriggerTypeEvent — срабатывает на входящее событие по типу и фильтру.
	TriggerTypeEvent TriggerType = "EVENT"

	// TriggerTypeSchedule — срабатывает по cron-выражению.
	TriggerTypeSchedule TriggerType = "SCHEDULE"

	// TriggerTypeWebhook — синхронный HTTP вызов с проверкой auth.
	TriggerTypeWebhook TriggerType = "WEBHOOK"

	// TriggerTypeCondition — срабатывает при пересечении порога метрики.
	TriggerTypeCondition TriggerType = "CONDITION"

	// TriggerTypeManual — ручной запуск оператором.
	TriggerTypeManual TriggerType = "MANUAL"
)
