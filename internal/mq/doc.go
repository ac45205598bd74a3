// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - instance.created — новый instance ожидает резолва
//   - task.dispatched  — task поставлен команде
//   - task.completed   — команда завершила task
//
// Exchanges:
//   - hive.instances — события instances
//   - hive.tasks     — события tasks
//   - hive.dlq       — dead letter queue
//
// Сообщения — уведомления, а не источник истины: полное состояние
// живёт в PostgreSQL, и каждый consumer обязан быть идемпотентным.
package mq
