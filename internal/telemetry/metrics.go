package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики ядра. Регистрируются в default registry,
// экспортируются через promhttp в каждом бинарнике.
var (
	// InstancesStarted — количество созданных instances.
	InstancesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hive_instances_started_total",
		Help: "Number of workflow instances created.",
	})

	// InstancesFinished — терминальные переходы instances по статусу.
	InstancesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hive_instances_finished_total",
		Help: "Number of workflow instances finished, by terminal status.",
	}, []string{"status"})

	// StepsCompleted — завершённые шаги по статусу.
	StepsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hive_steps_finished_total",
		Help: "Number of step executions finished, by terminal status.",
	}, []string{"status"})

	// TasksDispatched — созданные team tasks по команде.
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hive_tasks_dispatched_total",
		Help: "Number of team tasks dispatched, by team.",
	}, []string{"team"})

	// ClaimConflicts — проигранные гонки захвата task.
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hive_task_claim_conflicts_total",
		Help: "Number of task claim attempts lost to a concurrent claimer.",
	})

	// TriggerFires — срабатывания триггеров по типу.
	TriggerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hive_trigger_fires_total",
		Help: "Number of trigger fires, by trigger type.",
	}, []string{"type"})

	// SweepTimeouts — переходы в timed_out, выполненные sweep'ом.
	SweepTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hive_sweep_timeouts_total",
		Help: "Number of timeout transitions applied by the sweeper, by entity.",
	}, []string{"entity"})

	// StepDuration — длительность выполнения шагов.
	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hive_step_duration_seconds",
		Help:    "Wall-clock duration of step executions.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	// ResolvePassDuration — длительность одного прохода резолвера.
	ResolvePassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hive_resolve_pass_seconds",
		Help:    "Duration of a single dependency resolver pass.",
		Buckets: prometheus.DefBuckets,
	})
)
