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

	// Workflows
	mux.Handle("GET /api/v1/workflows", chain(http.HandlerFunc(h.ListWorkflows)))
	mux.Handle("POST /api/v1/workflows", chain(http.HandlerFunc(h.CreateWorkflow)))
	mux.Handle("GET /api/v1/workflows/{id}", chain(http.HandlerFunc(h.GetWorkflow)))
	mux.Handle("PATCH /api/v1/workflows/{id}", chain(http.HandlerFunc(h.UpdateWorkflow)))
	mux.Handle("DELETE /api/v1/workflows/{id}", chain(http.HandlerFunc(h.DeleteWorkflow)))

	// Steps
	mux.Handle("GET /api/v1/workflows/{id}/steps", chain(http.HandlerFunc(h.ListWorkflowSteps)))
	mux.Handle("POST /api/v1/workflows/{id}/steps", chain(http.HandlerFunc(h.AddWorkflowStep)))

	// Executions
	mux.Handle("POST /api/v1/workflows/{id}/execute", chain(http.HandlerFunc(h.Execute)))
	mux.Handle("POST /api/v1/workflows/{id}/execute-async", chain(http.HandlerFunc(h.ExecuteAsync)))
	mux.Handle("GET /api/v1/workflows/{id}/executions", chain(http.HandlerFunc(h.ListWorkflowExecutions)))
	mux.Handle("POST /api/v1/executions/{id}/advance", chain(http.HandlerFunc(h.AdvanceExecution)))
	mux.Handle("POST /api/v1/executions/{id}/cancel", chain(http.HandlerFunc(h.CancelExecution)))
	mux.Handle("GET /api/v1/executions/{id}/status", chain(http.HandlerFunc(h.ExecutionStatus)))
	mux.Handle("GET /api/v1/executions/{id}/steps", chain(http.HandlerFunc(h.ExecutionSteps)))

	// Callbacks обработчиков шагов
	mux.Handle("POST /api/v1/executions/{id}/steps/{name}/progress", chain(http.HandlerFunc(h.StepProgress)))
	mux.Handle("POST /api/v1/executions/{id}/steps/{name}/complete", chain(http.HandlerFunc(h.StepComplete)))

	// Websocket-поток событий (без logging middleware: соединение долгоживущее)
	mux.Handle("GET /ws/{id}", http.HandlerFunc(h.WatchExecution))
}
