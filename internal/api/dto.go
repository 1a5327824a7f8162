package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/android2133/articulo492/internal/domain"
	"github.com/android2133/articulo492/internal/orchestrator"
)

// Workflow DTOs

// StepDef — определение шага в запросе на создание workflow.
type StepDef struct {
	Name      string         `json:"name"`
	Order     int            `json:"order"`
	MaxVisits int            `json:"max_visits,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// CreateWorkflowRequest — запрос на создание workflow.
type CreateWorkflowRequest struct {
	Name  string    `json:"name"`
	Mode  string    `json:"mode,omitempty"`
	Steps []StepDef `json:"steps"`
}

// UpdateWorkflowRequest — запрос на обновление workflow.
type UpdateWorkflowRequest struct {
	Name *string `json:"name,omitempty"`
	Mode *string `json:"mode,omitempty"`
}

// WorkflowResponse — ответ с workflow.
type WorkflowResponse struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Mode      string         `json:"mode"`
	Steps     []StepResponse `json:"steps,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StepResponse — ответ с шагом.
type StepResponse struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Order     int            `json:"order"`
	MaxVisits int            `json:"max_visits"`
	Config    map[string]any `json:"config,omitempty"`
}

// WorkflowFromDomain конвертирует domain.Workflow в WorkflowResponse.
func WorkflowFromDomain(wf domain.Workflow, steps []domain.Step) WorkflowResponse {
	resp := WorkflowResponse{
		ID:        wf.ID,
		Name:      wf.Name,
		Mode:      string(wf.Mode),
		CreatedAt: wf.CreatedAt,
		UpdatedAt: wf.UpdatedAt,
	}
	for _, step := range steps {
		resp.Steps = append(resp.Steps, StepFromDomain(step))
	}
	return resp
}

// StepFromDomain конвертирует domain.Step в StepResponse.
func StepFromDomain(s domain.Step) StepResponse {
	return StepResponse{
		ID:        s.ID,
		Name:      s.Name,
		Order:     s.Order,
		MaxVisits: s.MaxVisits,
		Config:    s.Config,
	}
}

// Execution DTOs

// ExecuteRequest — запрос на запуск execution.
type ExecuteRequest struct {
	Context map[string]any `json:"context,omitempty"`
	Mode    string         `json:"mode,omitempty"`
}

// AdvanceRequest — запрос на продвижение manual-execution.
type AdvanceRequest struct {
	Context map[string]any `json:"context,omitempty"`
}

// ExecutionResponse — ответ с execution.
type ExecutionResponse struct {
	ID            uuid.UUID      `json:"id"`
	WorkflowID    uuid.UUID      `json:"workflow_id"`
	Status        string         `json:"status"`
	Mode          string         `json:"mode"`
	CurrentStepID *uuid.UUID     `json:"current_step_id,omitempty"`
	Context       map[string]any `json:"context"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ExecutionFromDomain конвертирует domain.Execution в ExecutionResponse.
func ExecutionFromDomain(e domain.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:            e.ID,
		WorkflowID:    e.WorkflowID,
		Status:        string(e.Status),
		Mode:          string(e.Mode),
		CurrentStepID: e.CurrentStepID,
		Context:       e.Context,
		ErrorKind:     string(e.ErrorKind),
		ErrorMessage:  e.ErrorMessage,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// StepExecutionResponse — ответ с попыткой шага.
type StepExecutionResponse struct {
	ID            uuid.UUID      `json:"id"`
	StepID        uuid.UUID      `json:"step_id"`
	StepName      string         `json:"step_name"`
	Status        string         `json:"status"`
	Attempt       int            `json:"attempt"`
	InputPayload  map[string]any `json:"input_payload,omitempty"`
	OutputPayload map[string]any `json:"output_payload,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// StepExecutionFromDomain конвертирует domain.StepExecution в ответ.
func StepExecutionFromDomain(se domain.StepExecution) StepExecutionResponse {
	return StepExecutionResponse{
		ID:            se.ID,
		StepID:        se.StepID,
		StepName:      se.StepName,
		Status:        string(se.Status),
		Attempt:       se.Attempt,
		InputPayload:  se.InputPayload,
		OutputPayload: se.OutputPayload,
		ErrorKind:     string(se.ErrorKind),
		ErrorMessage:  se.ErrorMessage,
		StartedAt:     se.StartedAt,
		FinishedAt:    se.FinishedAt,
		CreatedAt:     se.CreatedAt,
	}
}

// SnapshotResponse — снимок execution со ссылками для отслеживания.
type SnapshotResponse struct {
	Execution       ExecutionResponse         `json:"execution"`
	CurrentStepName string                    `json:"current_step_name,omitempty"`
	Progress        orchestrator.Progress     `json:"progress"`
	LastStep        *StepExecutionResponse    `json:"last_step,omitempty"`
	StepProgress    map[string]map[string]any `json:"step_progress,omitempty"`
	TrackingURL     string                    `json:"tracking_url"`
	WebsocketURL    string                    `json:"websocket_url"`
}

// SnapshotFromOrchestrator конвертирует orchestrator.Snapshot в ответ.
func SnapshotFromOrchestrator(snap *orchestrator.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{
		Execution:       ExecutionFromDomain(*snap.Execution),
		CurrentStepName: snap.CurrentStepName,
		Progress:        snap.Progress,
		StepProgress:    snap.StepProgress,
		TrackingURL:     trackingURL(snap.Execution.ID),
		WebsocketURL:    websocketURL(snap.Execution.ID),
	}
	if snap.LastStep != nil {
		last := StepExecutionFromDomain(*snap.LastStep)
		resp.LastStep = &last
	}
	return resp
}

func trackingURL(executionID uuid.UUID) string {
	return "/api/v1/executions/" + executionID.String() + "/status"
}

func websocketURL(executionID uuid.UUID) string {
	return "/ws/" + executionID.String()
}
