package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Hive/internal/orchestrator"
	"github.com/shaiso/Hive/internal/repo"
	"github.com/shaiso/Hive/internal/trigger"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// NoContent отправляет ответ без тела (204).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized отправляет ошибку 401.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict отправляет ошибку 409.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

// InvalidState отправляет ошибку 422.
func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleRepoError преобразует ошибку репозитория в HTTP ответ.
// Возвращает true, если ответ уже отправлен.
func HandleRepoError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, repo.ErrNotFound):
		NotFound(w, notFoundMsg)
	case errors.Is(err, repo.ErrAlreadyExists):
		Conflict(w, "resource already exists")
	case errors.Is(err, repo.ErrStaleStatus), errors.Is(err, repo.ErrInvalidState):
		InvalidState(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}

// HandleOrchestratorError преобразует ошибку оркестратора в HTTP ответ.
func HandleOrchestratorError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, orchestrator.ErrInstanceNotFound),
		errors.Is(err, orchestrator.ErrStepNotFound),
		errors.Is(err, orchestrator.ErrTaskNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, orchestrator.ErrAlreadyClaimed):
		Conflict(w, err.Error())
	case errors.Is(err, orchestrator.ErrDefinitionNotActive),
		errors.Is(err, orchestrator.ErrMaxNestingDepthExceeded),
		errors.Is(err, orchestrator.ErrInstanceFinished),
		errors.Is(err, orchestrator.ErrInstanceNotRunning),
		errors.Is(err, orchestrator.ErrInstanceNotPaused),
		errors.Is(err, orchestrator.ErrStepNotApproval),
		errors.Is(err, orchestrator.ErrTaskNotActive):
		InvalidState(w, err.Error())
	default:
		return HandleRepoError(w, logger, err, "not found")
	}
	return true
}

// HandleTriggerError преобразует ошибку trigger evaluator в HTTP ответ.
func HandleTriggerError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, trigger.ErrNoMatch):
		NotFound(w, "no trigger matched")
	case errors.Is(err, trigger.ErrTriggerNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, trigger.ErrUnauthorized):
		Unauthorized(w, "invalid auth token")
	case errors.Is(err, trigger.ErrTriggerInactive),
		errors.Is(err, trigger.ErrWrongTriggerType),
		errors.Is(err, trigger.ErrMissingInput):
		InvalidState(w, err.Error())
	default:
		return HandleOrchestratorError(w, logger, err)
	}
	return true
}
