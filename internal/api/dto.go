package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Hive/internal/domain"
)

// Definition DTOs

// CreateDefinitionRequest — запрос на создание definition.
type CreateDefinitionRequest struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// SetDefinitionStatusRequest — запрос на смену статуса definition.
type SetDefinitionStatusRequest struct {
	Status string `json:"status"`
}

// DefinitionResponse — ответ с definition.
type DefinitionResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefinitionFromDomain конвертирует domain.WorkflowDefinition в DefinitionResponse.
func DefinitionFromDomain(d domain.WorkflowDefinition) DefinitionResponse {
	return DefinitionResponse{
		ID:        d.ID,
		Name:      d.Name,
		Category:  d.Category,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Version DTOs

// CreateVersionRequest — запрос на создание версии definition.
type CreateVersionRequest struct {
	Graph domain.DefinitionGraph `json:"graph"`
}

// VersionResponse — ответ с версией definition.
type VersionResponse struct {
	DefinitionID uuid.UUID              `json:"definition_id"`
	Version      int                    `json:"version"`
	Graph        domain.DefinitionGraph `json:"graph"`
	CreatedAt    time.Time              `json:"created_at"`
}

// VersionFromDomain конвертирует domain.DefinitionVersion в VersionResponse.
func VersionFromDomain(v domain.DefinitionVersion) VersionResponse {
	return VersionResponse{
		DefinitionID: v.DefinitionID,
		Version:      v.Version,
		Graph:        v.Graph,
		CreatedAt:    v.CreatedAt,
	}
}

// Instance DTOs

// CreateInstanceRequest — запрос на создание instance.
type CreateInstanceRequest struct {
	Version  int            `json:"version,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Priority int            `json:"priority,omitempty"`
}

// CancelInstanceRequest — запрос на отмену instance.
type CancelInstanceRequest struct {
	Reason string `json:"reason"`
}

// InstanceResponse — ответ с instance.
type InstanceResponse struct {
	ID               uuid.UUID      `json:"id"`
	DefinitionID     uuid.UUID      `json:"definition_id"`
	Version          int            `json:"version"`
	Status           string         `json:"status"`
	Context          map[string]any `json:"context,omitempty"`
	Priority         int            `json:"priority,omitempty"`
	Deadline         *time.Time     `json:"deadline,omitempty"`
	ParentInstanceID *uuid.UUID     `json:"parent_instance_id,omitempty"`
	RootInstanceID   uuid.UUID      `json:"root_instance_id"`
	Depth            int            `json:"depth"`
	Reason           string         `json:"reason,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// InstanceFromDomain конвертирует domain.WorkflowInstance в InstanceResponse.
func InstanceFromDomain(i domain.WorkflowInstance) InstanceResponse {
	return InstanceResponse{
		ID:               i.ID,
		DefinitionID:     i.DefinitionID,
		Version:          i.Version,
		Status:           string(i.Status),
		Context:          i.Context,
		Priority:         i.Priority,
		Deadline:         i.Deadline,
		ParentInstanceID: i.ParentInstanceID,
		RootInstanceID:   i.RootInstanceID,
		Depth:            i.Depth,
		Reason:           i.Reason,
		StartedAt:        i.StartedAt,
		FinishedAt:       i.FinishedAt,
		CreatedAt:        i.CreatedAt,
	}
}

// InstanceStatusResponse — статус instance вместе с состояниями шагов.
type InstanceStatusResponse struct {
	Instance InstanceResponse `json:"instance"`
	Steps    []StepResponse   `json:"steps"`
}

// Step DTOs

// StepResponse — ответ с step execution.
type StepResponse struct {
	ID              uuid.UUID      `json:"id"`
	InstanceID      uuid.UUID      `json:"instance_id"`
	StepID          string         `json:"step_id"`
	Name            string         `json:"name,omitempty"`
	Type            string         `json:"type"`
	Status          string         `json:"status"`
	AssignedTeam    string         `json:"assigned_team,omitempty"`
	Action          string         `json:"action,omitempty"`
	Optional        bool           `json:"optional,omitempty"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	Iteration       int            `json:"iteration,omitempty"`
	Approvals       int            `json:"approvals,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	ChildInstanceID *uuid.UUID     `json:"child_instance_id,omitempty"`
	Deadline        *time.Time     `json:"deadline,omitempty"`
	Error           string         `json:"error,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// StepFromDomain конвертирует domain.StepExecution в StepResponse.
func StepFromDomain(s domain.StepExecution) StepResponse {
	return StepResponse{
		ID:              s.ID,
		InstanceID:      s.InstanceID,
		StepID:          s.StepID,
		Name:            s.Name,
		Type:            string(s.Type),
		Status:          string(s.Status),
		AssignedTeam:    s.AssignedTeam,
		Action:          s.Action,
		Optional:        s.Optional,
		RetryCount:      s.RetryCount,
		MaxRetries:      s.MaxRetries,
		Iteration:       s.Iteration,
		Approvals:       s.Approvals,
		OutputData:      s.OutputData,
		ChildInstanceID: s.ChildInstanceID,
		Deadline:        s.Deadline,
		Error:           s.Error,
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
		CreatedAt:       s.CreatedAt,
	}
}

// Task DTOs

// CompleteTaskRequest — запрос на завершение task.
// Непустой Error означает неуспех; Output игнорируется.
type CompleteTaskRequest struct {
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ClaimTaskRequest — запрос на захват task.
type ClaimTaskRequest struct {
	MemberID string `json:"member_id"`
}

// ApproveStepRequest — запрос на одобрение APPROVAL шага.
type ApproveStepRequest struct {
	Approver string `json:"approver"`
}

// TaskResponse — ответ с team task.
type TaskResponse struct {
	ID              uuid.UUID      `json:"id"`
	StepExecutionID uuid.UUID      `json:"step_execution_id"`
	InstanceID      uuid.UUID      `json:"instance_id"`
	Team            string         `json:"team"`
	Action          string         `json:"action,omitempty"`
	Attempt         int            `json:"attempt"`
	Priority        int            `json:"priority"`
	Deadline        *time.Time     `json:"deadline,omitempty"`
	Status          string         `json:"status"`
	ClaimedBy       string         `json:"claimed_by,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ClaimedAt       *time.Time     `json:"claimed_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// TaskFromDomain конвертирует domain.TeamTask в TaskResponse.
func TaskFromDomain(t domain.TeamTask) TaskResponse {
	return TaskResponse{
		ID:              t.ID,
		StepExecutionID: t.StepExecutionID,
		InstanceID:      t.InstanceID,
		Team:            t.Team,
		Action:          t.Action,
		Attempt:         t.Attempt,
		Priority:        t.Priority,
		Deadline:        t.Deadline,
		Status:          string(t.Status),
		ClaimedBy:       t.ClaimedBy,
		Input:           t.Input,
		Output:          t.Output,
		Error:           t.Error,
		CreatedAt:       t.CreatedAt,
		ClaimedAt:       t.ClaimedAt,
		FinishedAt:      t.FinishedAt,
	}
}

// Trigger DTOs

// CreateTriggerRequest — запрос на создание триггера.
type CreateTriggerRequest struct {
	DefinitionID uuid.UUID            `json:"definition_id"`
	Name         string               `json:"name"`
	Type         string               `json:"type"`
	Config       domain.TriggerConfig `json:"config"`
	InputMapping map[string]string    `json:"input_mapping,omitempty"`
	IsActive     bool                 `json:"is_active"`
}

// SetTriggerActiveRequest — запрос на включение/выключение триггера.
type SetTriggerActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// SubmitEventRequest — входящее событие для EVENT триггеров.
type SubmitEventRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SubmitResponse — результат срабатывания триггера.
type SubmitResponse struct {
	InstanceID uuid.UUID `json:"instance_id"`
}

// TriggerResponse — ответ с триггером.
type TriggerResponse struct {
	ID           uuid.UUID            `json:"id"`
	DefinitionID uuid.UUID            `json:"definition_id"`
	Name         string               `json:"name"`
	Type         string               `json:"type"`
	Config       domain.TriggerConfig `json:"config"`
	InputMapping map[string]string    `json:"input_mapping,omitempty"`
	IsActive     bool                 `json:"is_active"`
	Armed        bool                 `json:"armed"`
	LastFiredAt  *time.Time           `json:"last_fired_at,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// TriggerFromDomain конвертирует domain.Trigger в TriggerResponse.
func TriggerFromDomain(t domain.Trigger) TriggerResponse {
	resp := TriggerResponse{
		ID:           t.ID,
		DefinitionID: t.DefinitionID,
		Name:         t.Name,
		Type:         string(t.Type),
		Config:       t.Config,
		InputMapping: t.InputMapping,
		IsActive:     t.IsActive,
		Armed:        t.Armed,
		LastFiredAt:  t.LastFiredAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	// Auth token наружу не отдаётся
	resp.Config.AuthToken = ""
	return resp
}

// Audit DTOs

// AuditEventResponse — ответ с записью аудита.
type AuditEventResponse struct {
	ID              uuid.UUID      `json:"id"`
	InstanceID      uuid.UUID      `json:"instance_id"`
	StepExecutionID *uuid.UUID     `json:"step_execution_id,omitempty"`
	TaskID          *uuid.UUID     `json:"task_id,omitempty"`
	Team            string         `json:"team,omitempty"`
	EventType       string         `json:"event_type"`
	Reason          string         `json:"reason,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// AuditFromDomain конвертирует domain.AuditEvent в AuditEventResponse.
func AuditFromDomain(e domain.AuditEvent) AuditEventResponse {
	return AuditEventResponse{
		ID:              e.ID,
		InstanceID:      e.InstanceID,
		StepExecutionID: e.StepExecutionID,
		TaskID:          e.TaskID,
		Team:            e.Team,
		EventType:       string(e.EventType),
		Reason:          e.Reason,
		Payload:         e.Payload,
		CreatedAt:       e.CreatedAt,
	}
}
