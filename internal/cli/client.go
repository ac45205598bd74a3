package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// DefinitionResponse — definition из API.
type DefinitionResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// VersionResponse — версия definition из API.
type VersionResponse struct {
	DefinitionID string         `json:"definition_id"`
	Version      int            `json:"version"`
	Graph        map[string]any `json:"graph"`
	CreatedAt    string         `json:"created_at"`
}

// InstanceResponse — instance из API.
type InstanceResponse struct {
	ID               string         `json:"id"`
	DefinitionID     string         `json:"definition_id"`
	Version          int            `json:"version"`
	Status           string         `json:"status"`
	Context          map[string]any `json:"context,omitempty"`
	Priority         int            `json:"priority,omitempty"`
	Deadline         string         `json:"deadline,omitempty"`
	ParentInstanceID string         `json:"parent_instance_id,omitempty"`
	Depth            int            `json:"depth"`
	Reason           string         `json:"reason,omitempty"`
	StartedAt        string         `json:"started_at,omitempty"`
	FinishedAt       string         `json:"finished_at,omitempty"`
	CreatedAt        string         `json:"created_at"`
}

// StepResponse — step execution из API.
type StepResponse struct {
	ID           string         `json:"id"`
	InstanceID   string         `json:"instance_id"`
	StepID       string         `json:"step_id"`
	Name         string         `json:"name,omitempty"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	AssignedTeam string         `json:"assigned_team,omitempty"`
	RetryCount   int            `json:"retry_count"`
	Iteration    int            `json:"iteration,omitempty"`
	Approvals    int            `json:"approvals,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	Error        string         `json:"error,omitempty"`
	FinishedAt   string         `json:"finished_at,omitempty"`
}

// InstanceStatusResponse — instance вместе с шагами из API.
type InstanceStatusResponse struct {
	Instance InstanceResponse `json:"instance"`
	Steps    []StepResponse   `json:"steps"`
}

// TaskResponse — team task из API.
type TaskResponse struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	Team       string         `json:"team"`
	Action     string         `json:"action,omitempty"`
	Attempt    int            `json:"attempt"`
	Priority   int            `json:"priority"`
	Deadline   string         `json:"deadline,omitempty"`
	Status     string         `json:"status"`
	ClaimedBy  string         `json:"claimed_by,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// TriggerResponse — триггер из API.
type TriggerResponse struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Config       map[string]any `json:"config"`
	IsActive     bool           `json:"is_active"`
	Armed        bool           `json:"armed"`
	LastFiredAt  string         `json:"last_fired_at,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// AuditEventResponse — запись аудита из API.
type AuditEventResponse struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	Team       string `json:"team,omitempty"`
	EventType  string `json:"event_type"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// SubmitResponse — результат срабатывания триггера.
type SubmitResponse struct {
	InstanceID string `json:"instance_id"`
}

// --- Request types ---

// CreateInstanceRequest — создание instance.
type CreateInstanceRequest struct {
	Version  int            `json:"version,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Priority int            `json:"priority,omitempty"`
}

// ListInstancesOpts — параметры фильтрации instances.
type ListInstancesOpts struct {
	DefinitionID string
	Status       string
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Hive API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Definitions ---

// ListDefinitions возвращает все definitions.
func (c *Client) ListDefinitions() ([]DefinitionResponse, error) {
	var defs []DefinitionResponse
	err := c.list("/api/v1/definitions", nil, &defs)
	return defs, err
}

// CreateDefinition создаёт новый definition.
func (c *Client) CreateDefinition(name, category string) (*DefinitionResponse, error) {
	body := map[string]string{"name": name}
	if category != "" {
		body["category"] = category
	}
	var def DefinitionResponse
	err := c.post("/api/v1/definitions", body, &def)
	return &def, err
}

// GetDefinition возвращает definition по ID.
func (c *Client) GetDefinition(id string) (*DefinitionResponse, error) {
	var def DefinitionResponse
	err := c.get("/api/v1/definitions/"+id, &def)
	return &def, err
}

// SetDefinitionStatus меняет статус definition.
func (c *Client) SetDefinitionStatus(id, status string) (*DefinitionResponse, error) {
	body := map[string]string{"status": status}
	var def DefinitionResponse
	err := c.put("/api/v1/definitions/"+id+"/status", body, &def)
	return &def, err
}

// ListVersions возвращает версии definition.
func (c *Client) ListVersions(definitionID string) ([]VersionResponse, error) {
	var versions []VersionResponse
	err := c.list("/api/v1/definitions/"+definitionID+"/versions", nil, &versions)
	return versions, err
}

// CreateVersion создаёт новую версию definition из графа.
func (c *Client) CreateVersion(definitionID string, graph json.RawMessage) (*VersionResponse, error) {
	body := map[string]json.RawMessage{"graph": graph}
	var version VersionResponse
	err := c.post("/api/v1/definitions/"+definitionID+"/versions", body, &version)
	return &version, err
}

// --- Instances ---

// ListInstances возвращает список instances с фильтрацией.
func (c *Client) ListInstances(opts ListInstancesOpts) ([]InstanceResponse, error) {
	params := url.Values{}
	if opts.DefinitionID != "" {
		params.Set("definition_id", opts.DefinitionID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}

	var instances []InstanceResponse
	err := c.list("/api/v1/instances", params, &instances)
	return instances, err
}

// CreateInstance создаёт instance для definition.
func (c *Client) CreateInstance(definitionID string, req CreateInstanceRequest) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/definitions/"+definitionID+"/instances", req, &inst)
	return &inst, err
}

// GetInstance возвращает instance вместе с шагами.
func (c *Client) GetInstance(id string) (*InstanceStatusResponse, error) {
	var status InstanceStatusResponse
	err := c.get("/api/v1/instances/"+id, &status)
	return &status, err
}

// ListAudit возвращает журнал аудита instance.
func (c *Client) ListAudit(instanceID string) ([]AuditEventResponse, error) {
	var events []AuditEventResponse
	err := c.list("/api/v1/instances/"+instanceID+"/audit", nil, &events)
	return events, err
}

// CancelInstance отменяет instance.
func (c *Client) CancelInstance(id, reason string) error {
	body := map[string]string{"reason": reason}
	return c.post("/api/v1/instances/"+id+"/cancel", body, nil)
}

// PauseInstance приостанавливает instance.
func (c *Client) PauseInstance(id, reason string) error {
	body := map[string]string{"reason": reason}
	return c.post("/api/v1/instances/"+id+"/pause", body, nil)
}

// ResumeInstance возобновляет приостановленный instance.
func (c *Client) ResumeInstance(id string) error {
	return c.post("/api/v1/instances/"+id+"/resume", nil, nil)
}

// ApproveStep одобряет APPROVAL шаг.
func (c *Client) ApproveStep(stepID, approver string) error {
	body := map[string]string{"approver": approver}
	return c.post("/api/v1/steps/"+stepID+"/approve", body, nil)
}

// --- Team tasks ---

// ListTeamTasks возвращает PENDING задачи команды.
func (c *Client) ListTeamTasks(team string, limit int) ([]TaskResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var tasks []TaskResponse
	err := c.list("/api/v1/teams/"+team+"/tasks", params, &tasks)
	return tasks, err
}

// GetTask возвращает task по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+id, &task)
	return &task, err
}

// ClaimTask захватывает task для участника команды.
func (c *Client) ClaimTask(id, memberID string) (*TaskResponse, error) {
	body := map[string]string{"member_id": memberID}
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/claim", body, &task)
	return &task, err
}

// StartTask переводит task в IN_PROGRESS.
func (c *Client) StartTask(id string) error {
	return c.post("/api/v1/tasks/"+id+"/start", nil, nil)
}

// CompleteTask завершает task с результатом.
func (c *Client) CompleteTask(id string, output json.RawMessage) error {
	body := map[string]json.RawMessage{}
	if output != nil {
		body["output"] = output
	}
	return c.post("/api/v1/tasks/"+id+"/complete", body, nil)
}

// FailTask проваливает task с причиной.
func (c *Client) FailTask(id, errMsg string) error {
	body := map[string]string{"error": errMsg}
	return c.post("/api/v1/tasks/"+id+"/fail", body, nil)
}

// --- Triggers ---

// ListTriggers возвращает триггеры definition.
func (c *Client) ListTriggers(definitionID string) ([]TriggerResponse, error) {
	params := url.Values{}
	params.Set("definition_id", definitionID)

	var triggers []TriggerResponse
	err := c.list("/api/v1/triggers", params, &triggers)
	return triggers, err
}

// CreateTrigger создаёт триггер из JSON-описания.
func (c *Client) CreateTrigger(spec json.RawMessage) (*TriggerResponse, error) {
	var trig TriggerResponse
	err := c.doData(http.MethodPost, "/api/v1/triggers", spec, &trig)
	return &trig, err
}

// GetTrigger возвращает триггер по ID.
func (c *Client) GetTrigger(id string) (*TriggerResponse, error) {
	var trig TriggerResponse
	err := c.get("/api/v1/triggers/"+id, &trig)
	return &trig, err
}

// SetTriggerActive включает/выключает триггер.
func (c *Client) SetTriggerActive(id string, active bool) error {
	body := map[string]bool{"is_active": active}
	return c.put("/api/v1/triggers/"+id+"/active", body, nil)
}

// SubmitTrigger запускает WEBHOOK или MANUAL триггер по имени.
func (c *Client) SubmitTrigger(name, token string, payload json.RawMessage) (*SubmitResponse, error) {
	var resp SubmitResponse
	err := c.doAuth(http.MethodPost, "/api/v1/triggers/"+name+"/submit", token, payload, &resp)
	return &resp, err
}

// SubmitEvent отправляет событие для EVENT триггеров.
func (c *Client) SubmitEvent(eventType string, payload json.RawMessage) (*SubmitResponse, error) {
	body := map[string]json.RawMessage{
		"type": json.RawMessage(strconv.Quote(eventType)),
	}
	if payload != nil {
		body["payload"] = payload
	}
	var resp SubmitResponse
	err := c.post("/api/v1/events", body, &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	return c.doAuth(method, path, "", body, result)
}

func (c *Client) doAuth(method, path, token string, body any, result any) error {
	resp, err := c.do(method, path, token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path, token string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
