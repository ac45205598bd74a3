// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go            — Handler с DI (репозитории, orchestrator, evaluator, logger)
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, recovery)
//   - response.go           — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — Data Transfer Objects (request/response)
//   - definition_handler.go — обработчики для /definitions
//   - instance_handler.go   — обработчики для /instances и /steps
//   - task_handler.go       — обработчики для /teams и /tasks
//   - trigger_handler.go    — обработчики для /triggers и /events
//
// API предоставляет REST endpoints для управления definitions, instances,
// team tasks и triggers. Машины состояний живут в orchestrator: API слой
// только валидирует вход и переводит доменные ошибки в HTTP-статусы.
package api
