package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/android2133/articulo492/internal/broadcast"
	"github.com/android2133/articulo492/internal/domain"
	"github.com/android2133/articulo492/internal/orchestrator"
	"github.com/android2133/articulo492/internal/repo"
)

// fakeWorkflowStore — in-memory реализация WorkflowStore для тестов.
type fakeWorkflowStore struct {
	workflows map[uuid.UUID]*domain.Workflow
	steps     map[uuid.UUID][]domain.Step
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{
		workflows: make(map[uuid.UUID]*domain.Workflow),
		steps:     make(map[uuid.UUID][]domain.Step),
	}
}

func (f *fakeWorkflowStore) Create(_ context.Context, wf *domain.Workflow, steps []domain.Step) error {
	seen := map[string]bool{}
	for _, s := range steps {
		if seen[s.Name] {
			return repo.ErrAlreadyExists
		}
		seen[s.Name] = true
	}
	f.workflows[wf.ID] = wf
	f.steps[wf.ID] = steps
	return nil
}

func (f *fakeWorkflowStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (f *fakeWorkflowStore) List(_ context.Context) ([]domain.Workflow, error) {
	var out []domain.Workflow
	for _, wf := range f.workflows {
		out = append(out, *wf)
	}
	return out, nil
}

func (f *fakeWorkflowStore) Update(_ context.Context, wf *domain.Workflow) error {
	if _, ok := f.workflows[wf.ID]; !ok {
		return repo.ErrNotFound
	}
	f.workflows[wf.ID] = wf
	return nil
}

func (f *fakeWorkflowStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.workflows[id]; !ok {
		return repo.ErrNotFound
	}
	delete(f.workflows, id)
	delete(f.steps, id)
	return nil
}

func (f *fakeWorkflowStore) AddStep(_ context.Context, step *domain.Step) error {
	for _, s := range f.steps[step.WorkflowID] {
		if s.Name == step.Name || s.Order == step.Order {
			return repo.ErrAlreadyExists
		}
	}
	f.steps[step.WorkflowID] = append(f.steps[step.WorkflowID], *step)
	return nil
}

func (f *fakeWorkflowStore) ListSteps(_ context.Context, workflowID uuid.UUID) ([]domain.Step, error) {
	return f.steps[workflowID], nil
}

func (f *fakeWorkflowStore) GetStep(_ context.Context, id uuid.UUID) (*domain.Step, error) {
	for _, steps := range f.steps {
		for i := range steps {
			if steps[i].ID == id {
				step := steps[i]
				return &step, nil
			}
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeWorkflowStore) GetStepByName(_ context.Context, workflowID uuid.UUID, name string) (*domain.Step, error) {
	for _, step := range f.steps[workflowID] {
		if step.Name == name {
			return &step, nil
		}
	}
	return nil, repo.ErrNotFound
}

type fakeExecutionLister struct {
	execs []domain.Execution
}

func (f *fakeExecutionLister) ListByWorkflow(_ context.Context, workflowID uuid.UUID, limit, offset int) ([]domain.Execution, int, error) {
	var out []domain.Execution
	for _, e := range f.execs {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

// fakeExecStore — минимальное execution-хранилище для оркестратора.
type fakeExecStore struct {
	execs map[uuid.UUID]*domain.Execution
}

func (f *fakeExecStore) Create(_ context.Context, exec *domain.Execution) error {
	f.execs[exec.ID] = exec
	return nil
}

func (f *fakeExecStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Execution, error) {
	exec, ok := f.execs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *exec
	return &cp, nil
}

func (f *fakeExecStore) Update(_ context.Context, exec *domain.Execution, expected domain.ExecutionStatus) error {
	stored, ok := f.execs[exec.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if stored.Status != expected {
		return repo.ErrConflict
	}
	cp := *exec
	f.execs[exec.ID] = &cp
	return nil
}

func (f *fakeExecStore) ListByStatus(_ context.Context, status domain.ExecutionStatus, limit int) ([]domain.Execution, error) {
	return nil, nil
}

// fakeStepExecStore — пустая история попыток.
type fakeStepExecStore struct{}

func (fakeStepExecStore) Create(context.Context, *domain.StepExecution) error { return nil }
func (fakeStepExecStore) Update(context.Context, *domain.StepExecution) error { return nil }
func (fakeStepExecStore) CountAttempts(context.Context, uuid.UUID, uuid.UUID) (int, error) {
	return 0, nil
}
func (fakeStepExecStore) ListByExecution(context.Context, uuid.UUID) ([]domain.StepExecution, error) {
	return nil, nil
}
func (fakeStepExecStore) LatestForStep(context.Context, uuid.UUID, uuid.UUID) (*domain.StepExecution, error) {
	return nil, repo.ErrNotFound
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeWorkflowStore, *fakeExecutionLister) {
	t.Helper()

	store := newFakeWorkflowStore()
	lister := &fakeExecutionLister{}
	h := NewHandler(Config{
		Workflows:  store,
		Executions: lister,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store, lister
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode == http.StatusNoContent {
		return resp, nil
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestCreateWorkflow(t *testing.T) {
	srv, store, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows", map[string]any{
		"name": "document-intake",
		"mode": "MANUAL",
		"steps": []map[string]any{
			{"name": "classify", "order": 1},
			{"name": "extract", "order": 2, "max_visits": 3},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	data := body["data"].(map[string]any)
	if data["name"] != "document-intake" || data["mode"] != "MANUAL" {
		t.Errorf("unexpected workflow: %v", data)
	}
	steps := data["steps"].([]any)
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(steps))
	}
	first := steps[0].(map[string]any)
	if first["max_visits"] != float64(1) {
		t.Errorf("default max_visits = %v, want 1", first["max_visits"])
	}
	if len(store.workflows) != 1 {
		t.Errorf("stored workflows = %d, want 1", len(store.workflows))
	}
}

func TestCreateWorkflowValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	cases := []struct {
		name string
		req  map[string]any
	}{
		{"missing name", map[string]any{"steps": []map[string]any{{"name": "a", "order": 1}}}},
		{"bad mode", map[string]any{"name": "wf", "mode": "TURBO", "steps": []map[string]any{{"name": "a", "order": 1}}}},
		{"no steps", map[string]any{"name": "wf"}},
		{"unnamed step", map[string]any{"name": "wf", "steps": []map[string]any{{"order": 1}}}},
		{"negative max_visits", map[string]any{"name": "wf", "steps": []map[string]any{{"name": "a", "order": 1, "max_visits": -2}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows", tc.req)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			errObj := body["error"].(map[string]any)
			if errObj["code"] != string(ErrCodeBadRequest) {
				t.Errorf("code = %v, want BAD_REQUEST", errObj["code"])
			}
		})
	}
}

func TestCreateWorkflowDuplicateStepName(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows", map[string]any{
		"name": "wf",
		"steps": []map[string]any{
			{"name": "same", "order": 1},
			{"name": "same", "order": 2},
		},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestGetWorkflow(t *testing.T) {
	srv, store, _ := newTestServer(t)

	wf := &domain.Workflow{ID: uuid.New(), Name: "wf", Mode: domain.ModeAutomatic}
	store.workflows[wf.ID] = wf
	store.steps[wf.ID] = []domain.Step{
		{ID: uuid.New(), WorkflowID: wf.ID, Name: "only", Order: 1, MaxVisits: 1},
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/"+wf.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := body["data"].(map[string]any)
	if data["name"] != "wf" {
		t.Errorf("name = %v, want wf", data["name"])
	}
	if len(data["steps"].([]any)) != 1 {
		t.Errorf("steps missing from response")
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/"+uuid.NewString(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != string(ErrCodeNotFound) {
		t.Errorf("code = %v, want NOT_FOUND", errObj["code"])
	}
}

func TestGetWorkflowBadID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateWorkflow(t *testing.T) {
	srv, store, _ := newTestServer(t)

	wf := &domain.Workflow{ID: uuid.New(), Name: "old", Mode: domain.ModeAutomatic}
	store.workflows[wf.ID] = wf

	resp, body := doJSON(t, http.MethodPatch, srv.URL+"/api/v1/workflows/"+wf.ID.String(), map[string]any{
		"name": "renamed",
		"mode": "MANUAL",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := body["data"].(map[string]any)
	if data["name"] != "renamed" || data["mode"] != "MANUAL" {
		t.Errorf("unexpected workflow after update: %v", data)
	}
}

func TestDeleteWorkflow(t *testing.T) {
	srv, store, _ := newTestServer(t)

	wf := &domain.Workflow{ID: uuid.New(), Name: "wf", Mode: domain.ModeAutomatic}
	store.workflows[wf.ID] = wf

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/workflows/"+wf.ID.String(), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if len(store.workflows) != 0 {
		t.Errorf("workflow not deleted")
	}
}

func TestAddWorkflowStep(t *testing.T) {
	srv, store, _ := newTestServer(t)

	wf := &domain.Workflow{ID: uuid.New(), Name: "wf", Mode: domain.ModeAutomatic}
	store.workflows[wf.ID] = wf
	store.steps[wf.ID] = []domain.Step{
		{ID: uuid.New(), WorkflowID: wf.ID, Name: "first", Order: 1, MaxVisits: 1},
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wf.ID.String()+"/steps", map[string]any{
		"name":  "second",
		"order": 2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	data := body["data"].(map[string]any)
	if data["name"] != "second" {
		t.Errorf("name = %v, want second", data["name"])
	}

	// Повтор имени — конфликт.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wf.ID.String()+"/steps", map[string]any{
		"name":  "second",
		"order": 3,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate step: status = %d, want 409", resp.StatusCode)
	}
}

func TestListWorkflowExecutionsPagination(t *testing.T) {
	srv, store, lister := newTestServer(t)

	wf := &domain.Workflow{ID: uuid.New(), Name: "wf", Mode: domain.ModeAutomatic}
	store.workflows[wf.ID] = wf
	for i := 0; i < 5; i++ {
		lister.execs = append(lister.execs, domain.Execution{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			Status:     domain.ExecutionStatusCompleted,
			Mode:       domain.ModeAutomatic,
		})
	}

	resp, body := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/workflows/%s/executions?limit=2&offset=1", srv.URL, wf.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["total"] != float64(5) {
		t.Errorf("total = %v, want 5", body["total"])
	}
	if len(body["data"].([]any)) != 2 {
		t.Errorf("page size = %d, want 2", len(body["data"].([]any)))
	}
}

func TestWatchFinishedExecutionClosesImmediately(t *testing.T) {
	store := newFakeWorkflowStore()
	wf := &domain.Workflow{ID: uuid.New(), Name: "wf", Mode: domain.ModeAutomatic}
	store.workflows[wf.ID] = wf
	store.steps[wf.ID] = []domain.Step{
		{ID: uuid.New(), WorkflowID: wf.ID, Name: "only", Order: 1, MaxVisits: 1},
	}

	exec := &domain.Execution{
		ID:         uuid.New(),
		WorkflowID: wf.ID,
		Status:     domain.ExecutionStatusCompleted,
		Mode:       domain.ModeAutomatic,
		Context:    domain.Context{},
	}
	execs := &fakeExecStore{execs: map[uuid.UUID]*domain.Execution{exec.ID: exec}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := broadcast.NewHub(logger)
	orch := orchestrator.New(orchestrator.Config{
		Workflows: store,
		Execs:     execs,
		StepExecs: fakeStepExecStore{},
		Hub:       hub,
		Logger:    logger,
	})

	h := NewHandler(Config{
		Workflows:    store,
		Executions:   &fakeExecutionLister{},
		Orchestrator: orch,
		Hub:          hub,
		Logger:       logger,
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + exec.ID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Финализированный execution: сервер сразу закрывает соединение
	// штатным Close, не создавая подписку.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read error = %v, want normal closure", err)
	}
	if hub.SubscriberCount(exec.ID) != 0 {
		t.Errorf("finished execution must not gain subscribers")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := Chain(Recovery(logger))(panicking)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestLoggingMiddlewareCapturesStatus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		NotFound(w, "missing")
	})
	handler := Chain(Logging(logger))(notFound)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&bad=abc&neg=-1", nil)

	if got := parseIntQuery(req, "limit", 50); got != 10 {
		t.Errorf("limit = %d, want 10", got)
	}
	if got := parseIntQuery(req, "missing", 50); got != 50 {
		t.Errorf("missing = %d, want default 50", got)
	}
	if got := parseIntQuery(req, "bad", 50); got != 50 {
		t.Errorf("bad = %d, want default 50", got)
	}
	if got := parseIntQuery(req, "neg", 50); got != 50 {
		t.Errorf("neg = %d, want default 50", got)
	}
}
