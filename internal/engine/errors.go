package engine

import "errors"

// Ошибки валидации DefinitionGraph.
var (
	// ErrEmptyGraph — граф не содержит шагов.
	ErrEmptyGraph = errors.New("definition graph has no steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrMissingDependency — шаг зависит от несуществующего шага.
	ErrMissingDependency = errors.New("step depends on unknown step")

	// ErrDependencyCycle — обнаружен цикл в зависимостях.
	// Ловится при валидации definition, не в рантайме.
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")

	// ErrInvalidVariant — вариант шага не имеет обязательных полей
	// (loop без max_iterations, subworkflow без definition и т.п.).
	ErrInvalidVariant = errors.New("invalid step variant")
)

// Ошибки переходов состояний.
var (
	// ErrInvalidTransition — переход запрещён машиной состояний.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyTerminal — сущность уже в терминальном статусе.
	ErrAlreadyTerminal = errors.New("already in terminal state")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")

	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
