package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

const defaultTaskListLimit = 50

// ListTeamTasks обрабатывает GET /api/v1/teams/{team}/tasks.
//
// Возвращает PENDING задачи команды в порядке приоритета.
func (h *Handler) ListTeamTasks(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	if team == "" {
		BadRequest(w, "team is required")
		return
	}

	limit := defaultTaskListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	tasks, err := h.tasks.ListPendingByTeam(r.Context(), team, limit)
	if err != nil {
		HandleRepoError(w, h.logger, err, "task not found")
		return
	}

	resp := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, TaskFromDomain(t))
	}
	List(w, resp, len(resp))
}

// GetTask обрабатывает GET /api/v1/tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if err != nil {
		HandleRepoError(w, h.logger, err, "task not found")
		return
	}
	Success(w, TaskFromDomain(*task))
}

// ClaimTask обрабатывает POST /api/v1/tasks/{id}/claim.
//
// Проигравший гонку участник получает 409.
func (h *Handler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	var req ClaimTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.MemberID == "" {
		BadRequest(w, "member_id is required")
		return
	}

	task, err := h.orch.ClaimTask(r.Context(), id, req.MemberID)
	if err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}
	Success(w, TaskFromDomain(*task))
}

// StartTask обрабатывает POST /api/v1/tasks/{id}/start.
func (h *Handler) StartTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	if err := h.orch.StartTask(r.Context(), id); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}
	NoContent(w)
}

// CompleteTask обрабатывает POST /api/v1/tasks/{id}/complete.
//
// Непустое поле error в теле означает неуспех задачи.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	var req CompleteTaskRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid JSON body")
			return
		}
	}

	if req.Error != "" {
		err = h.orch.FailTask(r.Context(), id, req.Error)
	} else {
		err = h.orch.CompleteTask(r.Context(), id, req.Output)
	}
	if err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}
	NoContent(w)
}

// FailTask обрабатывает POST /api/v1/tasks/{id}/fail.
func (h *Handler) FailTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	var req CompleteTaskRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.Error == "" {
		req.Error = "failed via API"
	}

	if err := h.orch.FailTask(r.Context(), id, req.Error); err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}
	NoContent(w)
}
