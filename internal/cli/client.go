package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// WorkflowResponse — workflow из API.
type WorkflowResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Mode      string         `json:"mode"`
	Steps     []StepResponse `json:"steps,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// StepResponse — шаг workflow из API.
type StepResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Order     int            `json:"order"`
	MaxVisits int            `json:"max_visits"`
	Config    map[string]any `json:"config,omitempty"`
}

// ExecutionResponse — execution из API.
type ExecutionResponse struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	Status       string         `json:"status"`
	Mode         string         `json:"mode"`
	Context      map[string]any `json:"context"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

// ProgressResponse — прогресс execution из API.
type ProgressResponse struct {
	TotalSteps     int     `json:"total_steps"`
	CompletedSteps int     `json:"completed_steps"`
	FailedSteps    int     `json:"failed_steps"`
	Percentage     float64 `json:"percentage"`
}

// StepExecutionResponse — попытка шага из API.
type StepExecutionResponse struct {
	ID            string         `json:"id"`
	StepID        string         `json:"step_id"`
	StepName      string         `json:"step_name"`
	Status        string         `json:"status"`
	Attempt       int            `json:"attempt"`
	OutputPayload map[string]any `json:"output_payload,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     string         `json:"started_at,omitempty"`
	FinishedAt    string         `json:"finished_at,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

// SnapshotResponse — снимок execution со ссылками для отслеживания.
type SnapshotResponse struct {
	Execution       ExecutionResponse      `json:"execution"`
	CurrentStepName string                 `json:"current_step_name,omitempty"`
	Progress        ProgressResponse       `json:"progress"`
	LastStep        *StepExecutionResponse `json:"last_step,omitempty"`
	TrackingURL     string                 `json:"tracking_url"`
	WebsocketURL    string                 `json:"websocket_url"`
}

// --- Request types ---

// StepDef — определение шага при создании workflow.
type StepDef struct {
	Name      string         `json:"name"`
	Order     int            `json:"order"`
	MaxVisits int            `json:"max_visits,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// CreateWorkflowRequest — создание workflow.
type CreateWorkflowRequest struct {
	Name  string    `json:"name"`
	Mode  string    `json:"mode,omitempty"`
	Steps []StepDef `json:"steps"`
}

// UpdateWorkflowRequest — обновление workflow.
type UpdateWorkflowRequest struct {
	Name *string `json:"name,omitempty"`
	Mode *string `json:"mode,omitempty"`
}

// ExecuteRequest — запуск execution.
type ExecuteRequest struct {
	Context map[string]any `json:"context,omitempty"`
	Mode    string         `json:"mode,omitempty"`
}

// AdvanceRequest — продвижение manual-execution.
type AdvanceRequest struct {
	Context map[string]any `json:"context,omitempty"`
}

// ListExecutionsOpts — параметры выборки executions.
type ListExecutionsOpts struct {
	Limit  int
	Offset int
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

// Client — HTTP-клиент для API оркестратора.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // синхронный execute может идти долго
		},
	}
}

// BaseURL возвращает адрес API (нужен для построения ws:// URL).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// --- Workflows ---

// ListWorkflows возвращает все workflows.
func (c *Client) ListWorkflows() ([]WorkflowResponse, error) {
	var workflows []WorkflowResponse
	err := c.list("/api/v1/workflows", nil, &workflows)
	return workflows, err
}

// CreateWorkflow создаёт workflow вместе с шагами.
func (c *Client) CreateWorkflow(req CreateWorkflowRequest) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.post("/api/v1/workflows", req, &wf)
	return &wf, err
}

// GetWorkflow возвращает workflow по ID.
func (c *Client) GetWorkflow(id string) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.get("/api/v1/workflows/"+id, &wf)
	return &wf, err
}

// UpdateWorkflow обновляет workflow.
func (c *Client) UpdateWorkflow(id string, req UpdateWorkflowRequest) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.patch("/api/v1/workflows/"+id, req, &wf)
	return &wf, err
}

// DeleteWorkflow удаляет workflow.
func (c *Client) DeleteWorkflow(id string) error {
	return c.delete("/api/v1/workflows/" + id)
}

// ListSteps возвращает шаги workflow.
func (c *Client) ListSteps(workflowID string) ([]StepResponse, error) {
	var steps []StepResponse
	err := c.list("/api/v1/workflows/"+workflowID+"/steps", nil, &steps)
	return steps, err
}

// AddStep добавляет шаг к workflow.
func (c *Client) AddStep(workflowID string, def StepDef) (*StepResponse, error) {
	var step StepResponse
	err := c.post("/api/v1/workflows/"+workflowID+"/steps", def, &step)
	return &step, err
}

// --- Executions ---

// Execute запускает execution синхронно.
func (c *Client) Execute(workflowID string, req ExecuteRequest) (*SnapshotResponse, error) {
	var snap SnapshotResponse
	err := c.post("/api/v1/workflows/"+workflowID+"/execute", req, &snap)
	return &snap, err
}

// ExecuteAsync запускает execution в фоне.
func (c *Client) ExecuteAsync(workflowID string, req ExecuteRequest) (*SnapshotResponse, error) {
	var snap SnapshotResponse
	err := c.post("/api/v1/workflows/"+workflowID+"/execute-async", req, &snap)
	return &snap, err
}

// ListExecutions возвращает executions workflow с пагинацией.
func (c *Client) ListExecutions(workflowID string, opts ListExecutionsOpts) ([]ExecutionResponse, error) {
	params := url.Values{}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", opts.Offset))
	}

	var execs []ExecutionResponse
	err := c.list("/api/v1/workflows/"+workflowID+"/executions", params, &execs)
	return execs, err
}

// Advance выполняет один шаг приостановленного manual-execution.
func (c *Client) Advance(executionID string, req AdvanceRequest) (*SnapshotResponse, error) {
	var snap SnapshotResponse
	err := c.post("/api/v1/executions/"+executionID+"/advance", req, &snap)
	return &snap, err
}

// CancelExecution отменяет execution.
func (c *Client) CancelExecution(executionID string) (*SnapshotResponse, error) {
	var snap SnapshotResponse
	err := c.post("/api/v1/executions/"+executionID+"/cancel", nil, &snap)
	return &snap, err
}

// ExecutionStatus возвращает снимок execution.
func (c *Client) ExecutionStatus(executionID string) (*SnapshotResponse, error) {
	var snap SnapshotResponse
	err := c.get("/api/v1/executions/"+executionID+"/status", &snap)
	return &snap, err
}

// ExecutionSteps возвращает историю попыток шагов execution.
func (c *Client) ExecutionSteps(executionID string) ([]StepExecutionResponse, error) {
	var steps []StepExecutionResponse
	err := c.list("/api/v1/executions/"+executionID+"/steps", nil, &steps)
	return steps, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) patch(path string, body any, result any) error {
	return c.doData(http.MethodPatch, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
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
	resp, err := c.do(method, path, body)
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

func (c *Client) do(method, path string, body any) (*http.Response, error) {
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
