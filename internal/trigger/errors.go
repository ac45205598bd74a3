package trigger

import "errors"

// Ошибки trigger evaluator.
var (
	// ErrNoMatch — событие не совпало ни с одним активным триггером.
	ErrNoMatch = errors.New("no trigger matched")

	// ErrTriggerNotFound — триггер не найден.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrTriggerInactive — триггер выключен.
	ErrTriggerInactive = errors.New("trigger is not active")

	// ErrWrongTriggerType — операция не подходит типу триггера.
	ErrWrongTriggerType = errors.New("wrong trigger type")

	// ErrUnauthorized — неверный auth token webhook триггера.
	ErrUnauthorized = errors.New("invalid auth token")

	// ErrMissingInput — в payload нет обязательного входа.
	ErrMissingInput = errors.New("missing required input")
)
