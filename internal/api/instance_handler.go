package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/orchestrator"
)

const defaultInstanceListLimit = 100

// CreateInstance обрабатывает POST /api/v1/definitions/{id}/instances.
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	defID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid definition id")
		return
	}

	var req CreateInstanceRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid JSON body")
			return
		}
	}

	inst, err := h.orch.CreateInstance(r.Context(), orchestrator.CreateInstanceParams{
		DefinitionID: defID,
		Version:      req.Version,
		Context:      req.Context,
		Priority:     req.Priority,
	})
	if err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}
	Created(w, InstanceFromDomain(*inst))
}

// ListInstances обрабатывает GET /api/v1/instances.
//
// Фильтры: ?status=RUNNING или ?definition_id=<uuid>; без фильтров — активные.
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultInstanceListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil || n < 1 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	var (
		instances []domain.WorkflowInstance
		err       error
	)
	switch {
	case r.URL.Query().Get("definition_id") != "":
		defID, perr := uuid.Parse(r.URL.Query().Get("definition_id"))
		if perr != nil {
			BadRequest(w, "invalid definition_id filter")
			return
		}
		instances, err = h.instances.ListByDefinition(ctx, defID, limit)
	case r.URL.Query().Get("status") != "":
		instances, err = h.instances.ListByStatus(ctx, domain.InstanceStatus(r.URL.Query().Get("status")), limit)
	default:
		instances, err = h.instances.ListActive(ctx, limit)
	}
	if err != nil {
		HandleRepoError(w, h.logger, err, "instance not found")
		return
	}

	resp := make([]InstanceResponse, 0, len(instances))
	for _, i := range instances {
		resp = append(resp, InstanceFromDomain(i))
	}
	List(w, resp, len(resp))
}

// GetInstance обрабатывает GET /api/v1/instances/{id}.
//
// Возвращает instance вместе с состояниями всех шагов.
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	inst, err := h.instances.GetByID(r.Context(), id)
	if err != nil {
		HandleRepoError(w, h.logger, err, "instance not found")
		return
	}
	steps, err := h.steps.ListByInstance(r.Context(), id)
	if err != nil {
		HandleRepoError(w, h.logger, err, "instance not found")
		return
	}

	stepResp := make([]StepResponse, 0, len(steps))
	for _, s := range steps {
		stepResp = append(stepResp, StepFromDomain(s))
	}
	Success(w, InstanceStatusResponse{
		Instance: InstanceFromDomain(*inst),
		Steps:    stepResp,
	})
}

// ListInstanceAudit обрабатывает GET /api/v1/instances/{id}/audit.
func (h *Handler) ListInstanceAudit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	events, err := h.audit.ListByInstance(r.Context(), id, 500)
	if err != nil {
		HandleRepoError(w, h.logger, err, "instance not found")
		return
	}

	resp := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, AuditFromDomain(e))
	}
	List(w, resp, len(resp))
}

// CancelInstance обрабатывает POST /api/v1/instances/{id}/cancel.
func (h *Handler) CancelInstance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	var req CancelInstanceRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled via API"
	}

	if err := h.orch.CancelInstance(r.Context(), id, req.Reason); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}
	NoContent(w)
}

// PauseInstance обрабатывает POST /api/v1/instances/{id}/pause.
func (h *Handler) PauseInstance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	var req CancelInstanceRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid JSON body")
			return
		}
	}

	if err := h.orch.PauseInstance(r.Context(), id, req.Reason); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}
	NoContent(w)
}

// ResumeInstance обрабатывает POST /api/v1/instances/{id}/resume.
func (h *Handler) ResumeInstance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	if err := h.orch.ResumeInstance(r.Context(), id); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}
	NoContent(w)
}

// ApproveStep обрабатывает POST /api/v1/steps/{id}/approve.
func (h *Handler) ApproveStep(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid step id")
		return
	}

	var req ApproveStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.Approver == "" {
		BadRequest(w, "approver is required")
		return
	}

	if err := h.orch.ApproveStep(r.Context(), id, req.Approver); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}
	NoContent(w)
}
