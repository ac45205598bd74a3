package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeInstanceCreated MessageType = "instance.created"
	MessageTypeTaskDispatched  MessageType = "task.dispatched"
	MessageTypeTaskCompleted   MessageType = "task.completed"
)

// Publisher публикует сообщения в RabbitMQ.
//
// Сообщения — это только уведомления: источником истины остаётся БД,
// и потерянное сообщение навёрстывает polling fallback оркестратора.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// InstanceCreatedPayload — payload для сообщения о новом instance.
type InstanceCreatedPayload struct {
	InstanceID uuid.UUID `json:"instance_id"`
}

// TaskDispatchedPayload — payload для сообщения о новом task.
type TaskDispatchedPayload struct {
	TaskID     uuid.UUID `json:"task_id"`
	InstanceID uuid.UUID `json:"instance_id"`
	Team       string    `json:"team"`
	Action     string    `json:"action,omitempty"`
	Priority   int       `json:"priority"`
}

// TaskCompletedPayload — payload для сообщения о завершённом task.
type TaskCompletedPayload struct {
	TaskID     uuid.UUID `json:"task_id"`
	InstanceID uuid.UUID `json:"instance_id"`
	StepID     string    `json:"step_id"`
	Status     string    `json:"status"` // COMPLETED или FAILED
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishInstanceCreated публикует событие о новом instance.
// Потребитель: Orchestrator.
func (p *Publisher) PublishInstanceCreated(ctx context.Context, instanceID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeInstanceCreated,
		Payload:   InstanceCreatedPayload{InstanceID: instanceID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeInstances, RoutingKeyCreated, msg)
}

// PublishTaskDispatched публикует событие о новом task для команды.
// Потребители: адаптеры команд.
func (p *Publisher) PublishTaskDispatched(ctx context.Context, payload TaskDispatchedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskDispatched,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyDispatched, msg)
}

// PublishTaskCompleted публикует событие о завершённом task.
// Потребитель: Orchestrator.
func (p *Publisher) PublishTaskCompleted(ctx context.Context, payload TaskCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyCompleted, msg)
}
