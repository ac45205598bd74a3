package api

import (
	"log/slog"

	"github.com/shaiso/Hive/internal/orchestrator"
	"github.com/shaiso/Hive/internal/repo"
	"github.com/shaiso/Hive/internal/trigger"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	definitions *repo.DefinitionRepo
	instances   *repo.InstanceRepo
	steps       *repo.StepRepo
	tasks       *repo.TaskRepo
	triggers    *repo.TriggerRepo
	audit       *repo.AuditRepo
	orch        *orchestrator.Orchestrator
	evaluator   *trigger.Evaluator
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Definitions *repo.DefinitionRepo
	Instances   *repo.InstanceRepo
	Steps       *repo.StepRepo
	Tasks       *repo.TaskRepo
	Triggers    *repo.TriggerRepo
	Audit       *repo.AuditRepo

	// Orchestrator используется API как Instance Manager и Execution
	// Tracker: создание/отмена instances, claim/complete протокол.
	// Start() на нём не вызывается — consumers живут в своём бинаре.
	Orchestrator *orchestrator.Orchestrator

	// Evaluator обслуживает submit триггеров.
	Evaluator *trigger.Evaluator

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		definitions: cfg.Definitions,
		instances:   cfg.Instances,
		steps:       cfg.Steps,
		tasks:       cfg.Tasks,
		triggers:    cfg.Triggers,
		audit:       cfg.Audit,
		orch:        cfg.Orchestrator,
		evaluator:   cfg.Evaluator,
		logger:      cfg.Logger,
	}
}
