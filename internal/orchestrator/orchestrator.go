package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Hive/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// Orchestrator управляет выполнением workflow instances.
//
// Центральный компонент системы:
//   - Принимает события instances.created и tasks.completed из RabbitMQ
//   - Периодически проходит по активным instances (polling fallback)
//   - Разрешает зависимости шагов и диспатчит tasks командам
//   - Финализирует instances (COMPLETED/FAILED/CANCELLED/TIMED_OUT)
//
// Состояние instances живёт только в PostgreSQL: каждый проход
// резолвера stateless, а все переходы выражены как CAS записи.
// Поэтому оркестратор безопасно запускать в нескольких репликах.
type Orchestrator struct {
	// Stores (в продакшене — internal/repo поверх PostgreSQL)
	definitions DefinitionStore
	instances   InstanceStore
	steps       StepStore
	tasks       TaskStore
	audit       AuditStore

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Consumers
	instanceConsumer *mq.Consumer
	taskConsumer     *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Stores
	Definitions DefinitionStore
	Instances   InstanceStore
	Steps       StepStore
	Tasks       TaskStore
	Audit       AuditStore

	// MQ. Publisher может быть nil — система деградирует до
	// polling-only режима.
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// PollInterval — интервал polling fallback (default: 10s).
	PollInterval time.Duration

	// BatchSize — количество instances за один poll (default: 100).
	BatchSize int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		definitions:  cfg.Definitions,
		instances:    cfg.Instances,
		steps:        cfg.Steps,
		tasks:        cfg.Tasks,
		audit:        cfg.Audit,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для instances.created
//   - Consumer для tasks.completed
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	if o.conn != nil {
		o.instanceConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueInstancesCreated),
			Handler:  o.handleInstanceCreated,
			Prefetch: 10,
		})

		o.taskConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueTasksCompleted),
			Handler:  o.handleTaskCompleted,
			Prefetch: 10,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.instanceConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("instance consumer error", "error", err)
			}
		}()

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.taskConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("task consumer error", "error", err)
			}
		}()
	} else {
		o.logger.Warn("no MQ connection, running polling-only")
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	if o.instanceConsumer != nil {
		o.instanceConsumer.Stop()
	}
	if o.taskConsumer != nil {
		o.taskConsumer.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling fallback.
//
// Подбирает instances, для которых MQ уведомление потерялось или
// пришло пока оркестратор был выключен, и шаги, застрявшие между
// переходами (например, retry после backoff).
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling: проход резолвера по каждому
// активному instance.
func (o *Orchestrator) poll(ctx context.Context) {
	instances, err := o.instances.ListActive(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list active instances", "error", err)
		return
	}

	if len(instances) == 0 {
		return
	}

	o.logger.Debug("poll found active instances", "count", len(instances))

	for i := range instances {
		if err := o.ResolvePass(ctx, instances[i].ID); err != nil {
			o.logger.Error("resolve pass failed",
				"instance_id", instances[i].ID,
				"error", err,
			)
		}
	}
}
