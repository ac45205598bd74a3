package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
	"github.com/shaiso/Hive/internal/engine"
)

// CreateDefinition обрабатывает POST /api/v1/definitions.
func (h *Handler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req CreateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	now := time.Now().UTC()
	def := &domain.WorkflowDefinition{
		ID:        uuid.New(),
		Name:      req.Name,
		Category:  req.Category,
		Status:    domain.DefinitionStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.definitions.Create(r.Context(), def); err != nil {
		HandleRepoError(w, h.logger, err, "definition not found")
		return
	}

	h.logger.Info("Definition создан", "definition_id", def.ID, "name", def.Name)
	Created(w, DefinitionFromDomain(*def))
}

// ListDefinitions обрабатывает GET /api/v1/definitions.
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.definitions.List(r.Context())
	if err != nil {
		HandleRepoError(w, h.logger, err, "definition not found")
		return
	}

	resp := make([]DefinitionResponse, 0, len(defs))
	for _, d := range defs {
		resp = append(resp, DefinitionFromDomain(d))
	}
	List(w, resp, len(resp))
}

// GetDefinition обрабатывает GET /api/v1/definitions/{id}.
func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid definition id")
		return
	}

	def, err := h.definitions.GetByID(r.Context(), id)
	if err != nil {
		HandleRepoError(w, h.logger, err, "definition not found")
		return
	}
	Success(w, DefinitionFromDomain(*def))
}

// SetDefinitionStatus обрабатывает PUT /api/v1/definitions/{id}/status.
//
// Легальные переходы проверяет репозиторий через CAS по текущему статусу.
func (h *Handler) SetDefinitionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid definition id")
		return
	}

	var req SetDefinitionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	target := domain.DefinitionStatus(req.Status)
	switch target {
	case domain.DefinitionStatusDraft, domain.DefinitionStatusActive,
		domain.DefinitionStatusDeprecated, domain.DefinitionStatusArchived:
	default:
		BadRequest(w, "unknown definition status: "+req.Status)
		return
	}

	def, err := h.definitions.GetByID(r.Context(), id)
	if err != nil {
		HandleRepoError(w, h.logger, err, "definition not found")
		return
	}
	if target == domain.DefinitionStatusActive {
		// Активировать можно только definition с хотя бы одной версией.
		if _, err := h.definitions.GetLatestVersion(r.Context(), id); err != nil {
			InvalidState(w, "definition has no versions")
			return
		}
	}
	if err := h.definitions.UpdateStatus(r.Context(), id, def.Status, target); err != nil {
		HandleRepoError(w, h.logger, err, "definition not found")
		return
	}

	h.logger.Info("Статус definition изменён",
		"definition_id", id, "from", def.Status, "to", target)
	def.Status = target
	Success(w, DefinitionFromDomain(*def))
}

// CreateVersion обрабатывает POST /api/v1/definitions/{id}/versions.
//
// Граф валидируется до записи: активация битой версии невозможна.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid definition id")
		return
	}

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if err := engine.Validate(&req.Graph); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if _, err := h.definitions.GetByID(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "definition not found")
		return
	}

	version := 1
	if latest, err := h.definitions.GetLatestVersion(r.Context(), id); err == nil {
		version = latest.Version + 1
	}
	v := &domain.DefinitionVersion{
		DefinitionID: id,
		Version:      version,
		Graph:        req.Graph,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.definitions.CreateVersion(r.Context(), v); err != nil {
		HandleRepoError(w, h.logger, err, "definition not found")
		return
	}

	h.logger.Info("Версия definition создана",
		"definition_id", id, "version", version, "steps", len(req.Graph.Steps))
	Created(w, VersionFromDomain(*v))
}

// ListVersions обрабатывает GET /api/v1/definitions/{id}/versions.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid definition id")
		return
	}

	versions, err := h.definitions.ListVersions(r.Context(), id)
	if err != nil {
		HandleRepoError(w, h.logger, err, "definition not found")
		return
	}

	resp := make([]VersionResponse, 0, len(versions))
	for _, v := range versions {
		resp = append(resp, VersionFromDomain(v))
	}
	List(w, resp, len(resp))
}

// GetVersion обрабатывает GET /api/v1/definitions/{id}/versions/{version}.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid definition id")
		return
	}
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		BadRequest(w, "invalid version number")
		return
	}

	v, err := h.definitions.GetVersion(r.Context(), id, version)
	if err != nil {
		HandleRepoError(w, h.logger, err, "version not found")
		return
	}
	Success(w, VersionFromDomain(*v))
}
