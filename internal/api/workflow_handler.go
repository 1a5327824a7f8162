package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/android2133/articulo492/internal/domain"
	"github.com/android2133/articulo492/internal/repo"
)

// CreateWorkflow создаёт workflow вместе с шагами.
// POST /api/v1/workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	mode := domain.ModeAutomatic
	if req.Mode != "" {
		mode = domain.Mode(req.Mode)
		if !mode.Valid() {
			BadRequest(w, "mode must be MANUAL or AUTOMATIC")
			return
		}
	}
	if len(req.Steps) == 0 {
		BadRequest(w, "workflow requires at least one step")
		return
	}

	now := time.Now()
	wf := &domain.Workflow{
		ID:        uuid.New(),
		Name:      req.Name,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}

	steps := make([]domain.Step, len(req.Steps))
	for i, def := range req.Steps {
		if def.Name == "" {
			BadRequest(w, "step name is required")
			return
		}
		maxVisits := def.MaxVisits
		if maxVisits == 0 {
			maxVisits = 1
		}
		if maxVisits < 1 {
			BadRequest(w, "max_visits must be at least 1")
			return
		}
		steps[i] = domain.Step{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			Name:       def.Name,
			Order:      def.Order,
			MaxVisits:  maxVisits,
			Config:     def.Config,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if err := h.workflows.Create(r.Context(), wf, steps); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			Conflict(w, "step names and orders must be unique within a workflow")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Created(w, WorkflowFromDomain(*wf, steps))
}

// ListWorkflows возвращает все workflows.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.workflows.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]WorkflowResponse, len(workflows))
	for i, wf := range workflows {
		result[i] = WorkflowFromDomain(wf, nil)
	}
	List(w, result, len(result))
}

// GetWorkflow возвращает workflow с его шагами.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}
	steps, err := h.workflows.ListSteps(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, WorkflowFromDomain(*wf, steps))
}

// UpdateWorkflow обновляет имя и режим workflow.
// PATCH /api/v1/workflows/{id}
func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	var req UpdateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			BadRequest(w, "name cannot be empty")
			return
		}
		wf.Name = *req.Name
	}
	if req.Mode != nil {
		mode := domain.Mode(*req.Mode)
		if !mode.Valid() {
			BadRequest(w, "mode must be MANUAL or AUTOMATIC")
			return
		}
		wf.Mode = mode
	}

	if err := h.workflows.Update(r.Context(), wf); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}
	Success(w, WorkflowFromDomain(*wf, nil))
}

// DeleteWorkflow удаляет workflow вместе с шагами.
// DELETE /api/v1/workflows/{id}
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	if err := h.workflows.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}
	NoContent(w)
}

// ListWorkflowSteps возвращает шаги workflow по порядку.
// GET /api/v1/workflows/{id}/steps
func (h *Handler) ListWorkflowSteps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	if _, err := h.workflows.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}
	steps, err := h.workflows.ListSteps(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]StepResponse, len(steps))
	for i, step := range steps {
		result[i] = StepFromDomain(step)
	}
	List(w, result, len(result))
}

// AddWorkflowStep добавляет шаг к существующему workflow.
// POST /api/v1/workflows/{id}/steps
func (h *Handler) AddWorkflowStep(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	var def StepDef
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if def.Name == "" {
		BadRequest(w, "step name is required")
		return
	}
	maxVisits := def.MaxVisits
	if maxVisits == 0 {
		maxVisits = 1
	}
	if maxVisits < 1 {
		BadRequest(w, "max_visits must be at least 1")
		return
	}

	if _, err := h.workflows.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	now := time.Now()
	step := &domain.Step{
		ID:         uuid.New(),
		WorkflowID: id,
		Name:       def.Name,
		Order:      def.Order,
		MaxVisits:  maxVisits,
		Config:     def.Config,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.workflows.AddStep(r.Context(), step); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			Conflict(w, "step name or order already used in this workflow")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Created(w, StepFromDomain(*step))
}

// ListWorkflowExecutions возвращает executions workflow с пагинацией.
// GET /api/v1/workflows/{id}/executions?limit=...&offset=...
func (h *Handler) ListWorkflowExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	if _, err := h.workflows.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	execs, total, err := h.executions.ListByWorkflow(r.Context(), id, limit, offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ExecutionResponse, len(execs))
	for i, exec := range execs {
		result[i] = ExecutionFromDomain(exec)
	}
	List(w, result, total)
}

// parseIntQuery парсит числовой query-параметр с default значением.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
