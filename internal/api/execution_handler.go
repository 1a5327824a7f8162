package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/android2133/articulo492/internal/domain"
	"github.com/android2133/articulo492/internal/orchestrator"
)

// Execute запускает execution синхронно: ответ приходит, когда
// execution достиг финального статуса (или паузы в manual-режиме).
// POST /api/v1/workflows/{id}/execute
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	req, workflowID, ok := h.decodeExecute(w, r)
	if !ok {
		return
	}

	snap, err := h.orch.Start(r.Context(), orchestrator.StartRequest{
		WorkflowID: workflowID,
		Context:    domain.Context(req.Context),
		Mode:       domain.Mode(req.Mode),
	})
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}
	Success(w, SnapshotFromOrchestrator(snap))
}

// ExecuteAsync запускает execution и сразу возвращает ссылки для
// отслеживания.
// POST /api/v1/workflows/{id}/execute-async
func (h *Handler) ExecuteAsync(w http.ResponseWriter, r *http.Request) {
	req, workflowID, ok := h.decodeExecute(w, r)
	if !ok {
		return
	}

	snap, err := h.orch.StartAsync(r.Context(), orchestrator.StartRequest{
		WorkflowID: workflowID,
		Context:    domain.Context(req.Context),
		Mode:       domain.Mode(req.Mode),
	})
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	JSON(w, http.StatusAccepted, DataResponse{Data: SnapshotFromOrchestrator(snap)})
}

// decodeExecute разбирает общий запрос запуска.
func (h *Handler) decodeExecute(w http.ResponseWriter, r *http.Request) (ExecuteRequest, uuid.UUID, bool) {
	var req ExecuteRequest
	workflowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return req, uuid.Nil, false
	}

	// Пустое тело допустимо: запуск без начального контекста.
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return req, uuid.Nil, false
		}
	}
	if req.Mode != "" && !domain.Mode(req.Mode).Valid() {
		BadRequest(w, "mode must be MANUAL or AUTOMATIC")
		return req, uuid.Nil, false
	}
	return req, workflowID, true
}

// AdvanceExecution выполняет один шаг приостановленного manual-execution.
// POST /api/v1/executions/{id}/advance
func (h *Handler) AdvanceExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	var req AdvanceRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	snap, err := h.orch.Advance(r.Context(), id, domain.Context(req.Context))
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}
	Success(w, SnapshotFromOrchestrator(snap))
}

// CancelExecution запрашивает отмену execution.
// POST /api/v1/executions/{id}/cancel
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	if err := h.orch.Cancel(r.Context(), id); HandleOrchestratorError(w, h.logger, err) {
		return
	}

	snap, err := h.orch.Status(r.Context(), id)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}
	Success(w, SnapshotFromOrchestrator(snap))
}

// ExecutionStatus возвращает снимок execution.
// GET /api/v1/executions/{id}/status
func (h *Handler) ExecutionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	snap, err := h.orch.Status(r.Context(), id)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}
	Success(w, SnapshotFromOrchestrator(snap))
}

// ExecutionSteps возвращает историю попыток шагов execution.
// GET /api/v1/executions/{id}/steps
func (h *Handler) ExecutionSteps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	history, err := h.orch.History(r.Context(), id)
	if HandleOrchestratorError(w, h.logger, err) {
		return
	}

	result := make([]StepExecutionResponse, len(history))
	for i, se := range history {
		result[i] = StepExecutionFromDomain(se)
	}
	List(w, result, len(result))
}
