package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// StepProgress принимает прогресс-отчёт обработчика шага.
// POST /api/v1/executions/{id}/steps/{name}/progress
func (h *Handler) StepProgress(w http.ResponseWriter, r *http.Request) {
	id, stepName, payload, ok := h.decodeCallback(w, r)
	if !ok {
		return
	}

	if err := h.orch.RecordProgress(r.Context(), id, stepName, payload); HandleOrchestratorError(w, h.logger, err) {
		return
	}
	Success(w, map[string]any{"recorded": true})
}

// StepComplete принимает от обработчика сигнал "работа сделана".
// Хинт информационный, итог шага определяет ответ обработчика.
// POST /api/v1/executions/{id}/steps/{name}/complete
func (h *Handler) StepComplete(w http.ResponseWriter, r *http.Request) {
	id, stepName, payload, ok := h.decodeCallback(w, r)
	if !ok {
		return
	}

	if err := h.orch.RecordCompletionHint(r.Context(), id, stepName, payload); HandleOrchestratorError(w, h.logger, err) {
		return
	}
	Success(w, map[string]any{"recorded": true})
}

// decodeCallback разбирает общий формат callback-запросов.
func (h *Handler) decodeCallback(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, map[string]any, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return uuid.Nil, "", nil, false
	}
	stepName := r.PathValue("name")
	if stepName == "" {
		BadRequest(w, "step name is required")
		return uuid.Nil, "", nil, false
	}

	payload := map[string]any{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			BadRequest(w, "invalid request body")
			return uuid.Nil, "", nil, false
		}
	}
	return id, stepName, payload, true
}
