package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeInstances Exchange = "hive.instances"
	ExchangeTasks     Exchange = "hive.tasks"
	ExchangeDLQ       Exchange = "hive.dlq"
)

// Queues — имена очередей.
const (
	QueueInstancesCreated Queue = "instances.created"
	QueueTasksDispatched  Queue = "tasks.dispatched"
	QueueTasksCompleted   Queue = "tasks.completed"
	QueueDLQTasks         Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyCreated    RoutingKey = "created"
	RoutingKeyDispatched RoutingKey = "dispatched"
	RoutingKeyCompleted  RoutingKey = "completed"
	RoutingKeyDLQTasks   RoutingKey = "tasks"
)

// SetupTopology объявляет exchanges, queues и bindings.
// Идемпотентно: повторное объявление с теми же параметрами — no-op.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeInstances, "direct"},
		{ExchangeTasks, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name),
			ex.kind,
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// instances.created — без DLQ: instance существует в БД,
		// потерянное уведомление подберёт polling fallback
		{QueueInstancesCreated, nil},

		// tasks.dispatched — с DLQ: неразборчивое уведомление о task
		// уходит в dlq.tasks для ручного разбора
		{QueueTasksDispatched, dlqArgs},

		// tasks.completed — без DLQ: события завершения
		{QueueTasksCompleted, nil},

		{QueueDLQTasks, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name),
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			q.args,
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueInstancesCreated, RoutingKeyCreated, ExchangeInstances},
		{QueueTasksDispatched, RoutingKeyDispatched, ExchangeTasks},
		{QueueTasksCompleted, RoutingKeyCompleted, ExchangeTasks},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),
			string(b.routingKey),
			string(b.exchange),
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Hive RabbitMQ Topology:

    hive.instances (direct)
    └── instances.created [routing: created]
            Consumer: Orchestrator

    hive.tasks (direct)
    ├── tasks.dispatched [routing: dispatched]
    │       Consumer: team adapters
    │       DLQ: dlq.tasks
    └── tasks.completed [routing: completed]
            Consumer: Orchestrator

    hive.dlq (direct)
    └── dlq.tasks [routing: tasks]
            Manual processing
  `
}
