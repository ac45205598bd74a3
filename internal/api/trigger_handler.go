package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/trigger"
)

// CreateTrigger обрабатывает POST /api/v1/triggers.
func (h *Handler) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req CreateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.DefinitionID == uuid.Nil {
		BadRequest(w, "definition_id is required")
		return
	}

	trigType := domain.TriggerType(req.Type)
	switch trigType {
	case domain.TriggerTypeEvent, domain.TriggerTypeSchedule,
		domain.TriggerTypeWebhook, domain.TriggerTypeCondition, domain.TriggerTypeManual:
	default:
		BadRequest(w, "unknown trigger type: "+req.Type)
		return
	}
	if trigType == domain.TriggerTypeSchedule {
		if err := trigger.ValidateCronExpr(req.Config.CronExpr); err != nil {
			BadRequest(w, "invalid cron expression: "+err.Error())
			return
		}
	}

	if _, err := h.definitions.GetByID(r.Context(), req.DefinitionID); err != nil {
		HandleRepoError(w, h.logger, err, "definition not found")
		return
	}

	now := time.Now().UTC()
	trig := &domain.Trigger{
		ID:           uuid.New(),
		DefinitionID: req.DefinitionID,
		Name:         req.Name,
		Type:         trigType,
		Config:       req.Config,
		InputMapping: req.InputMapping,
		IsActive:     req.IsActive,
		Armed:        true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.triggers.Create(r.Context(), trig); err != nil {
		HandleRepoError(w, h.logger, err, "trigger not found")
		return
	}

	h.logger.Info("Триггер создан",
		"trigger_id", trig.ID, "name", trig.Name, "type", trig.Type)
	Created(w, TriggerFromDomain(*trig))
}

// ListTriggers обрабатывает GET /api/v1/triggers?definition_id=<uuid>.
func (h *Handler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("definition_id")
	if raw == "" {
		BadRequest(w, "definition_id filter is required")
		return
	}
	defID, err := uuid.Parse(raw)
	if err != nil {
		BadRequest(w, "invalid definition_id filter")
		return
	}

	triggers, err := h.triggers.ListByDefinition(r.Context(), defID)
	if err != nil {
		HandleRepoError(w, h.logger, err, "trigger not found")
		return
	}

	resp := make([]TriggerResponse, 0, len(triggers))
	for _, t := range triggers {
		resp = append(resp, TriggerFromDomain(t))
	}
	List(w, resp, len(resp))
}

// GetTrigger обрабатывает GET /api/v1/triggers/{id}.
func (h *Handler) GetTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid trigger id")
		return
	}

	trig, err := h.triggers.GetByID(r.Context(), id)
	if err != nil {
		HandleRepoError(w, h.logger, err, "trigger not found")
		return
	}
	Success(w, TriggerFromDomain(*trig))
}

// SetTriggerActive обрабатывает PUT /api/v1/triggers/{id}/active.
func (h *Handler) SetTriggerActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid trigger id")
		return
	}

	var req SetTriggerActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}

	if err := h.triggers.SetActive(r.Context(), id, req.IsActive); err != nil {
		HandleRepoError(w, h.logger, err, "trigger not found")
		return
	}
	NoContent(w)
}

// SubmitEvent обрабатывает POST /api/v1/events.
//
// Первый подходящий EVENT триггер запускает instance; без совпадений — 404.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req SubmitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.Type == "" {
		BadRequest(w, "type is required")
		return
	}

	instanceID, err := h.evaluator.SubmitEvent(r.Context(), domain.Event{
		Type:    req.Type,
		Payload: req.Payload,
	})
	if err != nil {
		HandleTriggerError(w, h.logger, err)
		return
	}
	Created(w, SubmitResponse{InstanceID: instanceID})
}

// SubmitTrigger обрабатывает POST /api/v1/triggers/{name}/submit.
//
// Диспетчеризует по типу триггера: WEBHOOK проверяет bearer token,
// MANUAL — только required inputs.
func (h *Handler) SubmitTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		BadRequest(w, "trigger name is required")
		return
	}

	var payload map[string]any
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			BadRequest(w, "invalid JSON body")
			return
		}
	}

	trig, err := h.triggers.GetByName(r.Context(), name)
	if err != nil {
		HandleRepoError(w, h.logger, err, "trigger not found")
		return
	}

	var instanceID uuid.UUID
	switch trig.Type {
	case domain.TriggerTypeWebhook:
		instanceID, err = h.evaluator.SubmitWebhook(r.Context(), name, bearerToken(r), payload)
	case domain.TriggerTypeManual:
		instanceID, err = h.evaluator.SubmitManual(r.Context(), name, payload)
	default:
		InvalidState(w, "trigger type "+string(trig.Type)+" cannot be submitted directly")
		return
	}
	if err != nil {
		HandleTriggerError(w, h.logger, err)
		return
	}
	Created(w, SubmitResponse{InstanceID: instanceID})
}

// bearerToken извлекает token из заголовка Authorization.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}
