package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Definitions
	mux.Handle("GET /api/v1/definitions", chain(http.HandlerFunc(h.ListDefinitions)))
	mux.Handle("POST /api/v1/definitions", chain(http.HandlerFunc(h.CreateDefinition)))
	mux.Handle("GET /api/v1/definitions/{id}", chain(http.HandlerFunc(h.GetDefinition)))
	mux.Handle("PUT /api/v1/definitions/{id}/status", chain(http.HandlerFunc(h.SetDefinitionStatus)))

	// Definition versions
	mux.Handle("GET /api/v1/definitions/{id}/versions", chain(http.HandlerFunc(h.ListVersions)))
	mux.Handle("POST /api/v1/definitions/{id}/versions", chain(http.HandlerFunc(h.CreateVersion)))
	mux.Handle("GET /api/v1/definitions/{id}/versions/{version}", chain(http.HandlerFunc(h.GetVersion)))

	// Instances
	mux.Handle("GET /api/v1/instances", chain(http.HandlerFunc(h.ListInstances)))
	mux.Handle("POST /api/v1/definitions/{id}/instances", chain(http.HandlerFunc(h.CreateInstance)))
	mux.Handle("GET /api/v1/instances/{id}", chain(http.HandlerFunc(h.GetInstance)))
	mux.Handle("GET /api/v1/instances/{id}/audit", chain(http.HandlerFunc(h.ListInstanceAudit)))
	mux.Handle("POST /api/v1/instances/{id}/cancel", chain(http.HandlerFunc(h.CancelInstance)))
	mux.Handle("POST /api/v1/instances/{id}/pause", chain(http.HandlerFunc(h.PauseInstance)))
	mux.Handle("POST /api/v1/instances/{id}/resume", chain(http.HandlerFunc(h.ResumeInstance)))

	// Steps
	mux.Handle("POST /api/v1/steps/{id}/approve", chain(http.HandlerFunc(h.ApproveStep)))

	// Team tasks
	mux.Handle("GET /api/v1/teams/{team}/tasks", chain(http.HandlerFunc(h.ListTeamTasks)))
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("POST /api/v1/tasks/{id}/claim", chain(http.HandlerFunc(h.ClaimTask)))
	mux.Handle("POST /api/v1/tasks/{id}/start", chain(http.HandlerFunc(h.StartTask)))
	mux.Handle("POST /api/v1/tasks/{id}/complete", chain(http.HandlerFunc(h.CompleteTask)))
	mux.Handle("POST /api/v1/tasks/{id}/fail", chain(http.HandlerFunc(h.FailTask)))

	// Triggers
	mux.Handle("GET /api/v1/triggers", chain(http.HandlerFunc(h.ListTriggers)))
	mux.Handle("POST /api/v1/triggers", chain(http.HandlerFunc(h.CreateTrigger)))
	mux.Handle("GET /api/v1/triggers/{id}", chain(http.HandlerFunc(h.GetTrigger)))
	mux.Handle("PUT /api/v1/triggers/{id}/active", chain(http.HandlerFunc(h.SetTriggerActive)))
	mux.Handle("POST /api/v1/triggers/{name}/submit", chain(http.HandlerFunc(h.SubmitTrigger)))
	mux.Handle("POST /api/v1/events", chain(http.HandlerFunc(h.SubmitEvent)))
}
