// Package orchestrator управляет жизненным циклом workflow instances.
//
// Orchestrator отвечает за:
//   - Создание instances из активных definitions (материализация шагов)
//   - Resolve pass: раскрытие зависимостей и перевод шагов в READY
//   - Диспатч tasks командам и обработку их результатов
//   - Sub-workflows, retry, таймауты и каскадную отмену
//   - Финализацию instance (COMPLETED/FAILED/CANCELLED/TIMED_OUT)
//
// Orchestrator сам не хранит состояние: источник истины — PostgreSQL,
// каждый переход — CAS запись по ожидаемому статусу. Сообщения
// RabbitMQ только будят resolve pass раньше, чем это сделал бы
// поллинг, поэтому реплик оркестратора может быть несколько.
package orchestrator
