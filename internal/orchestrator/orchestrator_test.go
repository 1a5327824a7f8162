package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/android2133/articulo492/internal/broadcast"
	"github.com/android2133/articulo492/internal/domain"
	"github.com/android2133/articulo492/internal/invoker"
	"github.com/android2133/articulo492/internal/repo"
)

// --- In-memory фейки хранилищ ---

type memStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]domain.Workflow
	steps     map[uuid.UUID][]domain.Step // workflowID → шаги по порядку
	execs     map[uuid.UUID]domain.Execution
	stepExecs []domain.StepExecution
}

func newMemStore() *memStore {
	return &memStore{
		workflows: make(map[uuid.UUID]domain.Workflow),
		steps:     make(map[uuid.UUID][]domain.Step),
		execs:     make(map[uuid.UUID]domain.Execution),
	}
}

func (m *memStore) addWorkflow(mode domain.Mode, stepDefs ...domain.Step) *domain.Workflow {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf := domain.Workflow{ID: uuid.New(), Name: "wf", Mode: mode}
	m.workflows[wf.ID] = wf
	for i := range stepDefs {
		stepDefs[i].ID = uuid.New()
		stepDefs[i].WorkflowID = wf.ID
	}
	m.steps[wf.ID] = stepDefs
	return &wf
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &wf, nil
}

func (m *memStore) GetStep(_ context.Context, id uuid.UUID) (*domain.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, steps := range m.steps {
		for i := range steps {
			if steps[i].ID == id {
				step := steps[i]
				return &step, nil
			}
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memStore) GetStepByName(_ context.Context, workflowID uuid.UUID, name string) (*domain.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, step := range m.steps[workflowID] {
		if step.Name == name {
			return &step, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memStore) ListSteps(_ context.Context, workflowID uuid.UUID) ([]domain.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Step(nil), m.steps[workflowID]...), nil
}

func (m *memStore) Create(_ context.Context, exec *domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs[exec.ID] = *exec
	return nil
}

func (m *memStore) getExec(id uuid.UUID) (*domain.Execution, error) {
	exec, ok := m.execs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	exec.Context = exec.Context.Clone()
	return &exec, nil
}

func (m *memStore) GetByIDExec(_ context.Context, id uuid.UUID) (*domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getExec(id)
}

func (m *memStore) Update(_ context.Context, exec *domain.Execution, expected domain.ExecutionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.execs[exec.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if stored.Status != expected {
		return repo.ErrConflict
	}
	copied := *exec
	copied.Context = exec.Context.Clone()
	m.execs[exec.ID] = copied
	return nil
}

func (m *memStore) ListByStatus(_ context.Context, status domain.ExecutionStatus, limit int) ([]domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Execution
	for _, exec := range m.execs {
		if exec.Status == status && len(out) < limit {
			out = append(out, exec)
		}
	}
	return out, nil
}

// execStore разводит одноимённые GetByID воркфлоу- и execution-хранилищ.
type execStore struct{ *memStore }

func (s execStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	return s.memStore.GetByIDExec(ctx, id)
}

func (m *memStore) CreateAttempt(_ context.Context, se *domain.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepExecs = append(m.stepExecs, *se)
	return nil
}

func (m *memStore) UpdateAttempt(_ context.Context, se *domain.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.stepExecs {
		if m.stepExecs[i].ID == se.ID {
			m.stepExecs[i] = *se
			return nil
		}
	}
	return repo.ErrNotFound
}

func (m *memStore) CountAttempts(_ context.Context, executionID, stepID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for i := range m.stepExecs {
		if m.stepExecs[i].ExecutionID == executionID && m.stepExecs[i].StepID == stepID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListByExecution(_ context.Context, executionID uuid.UUID) ([]domain.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StepExecution
	for i := range m.stepExecs {
		if m.stepExecs[i].ExecutionID == executionID {
			out = append(out, m.stepExecs[i])
		}
	}
	return out, nil
}

func (m *memStore) LatestForStep(_ context.Context, executionID, stepID uuid.UUID) (*domain.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.StepExecution
	for i := range m.stepExecs {
		se := &m.stepExecs[i]
		if se.ExecutionID == executionID && se.StepID == stepID {
			if latest == nil || se.Attempt > latest.Attempt {
				latest = se
			}
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

// stepExecStore разводит Create/Update хранилищ попыток и executions.
type stepExecStore struct{ *memStore }

func (s stepExecStore) Create(ctx context.Context, se *domain.StepExecution) error {
	return s.memStore.CreateAttempt(ctx, se)
}

func (s stepExecStore) Update(ctx context.Context, se *domain.StepExecution) error {
	return s.memStore.UpdateAttempt(ctx, se)
}

// fakeInvoker отвечает на вызовы по имени шага.
type fakeInvoker struct {
	mu      sync.Mutex
	handler func(step *domain.Step, snapshot domain.Context) (*invoker.Result, error)
	calls   []string
}

func (f *fakeInvoker) Invoke(_ context.Context, step *domain.Step, snapshot domain.Context) (*invoker.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, step.Name)
	f.mu.Unlock()
	if f.handler == nil {
		return &invoker.Result{Context: domain.Context{}}, nil
	}
	return f.handler(step, snapshot)
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestOrchestrator(store *memStore, inv *fakeInvoker) *Orchestrator {
	return New(Config{
		Workflows: store,
		Execs:     execStore{store},
		StepExecs: stepExecStore{store},
		Invoker:   inv,
		Hub:       broadcast.NewHub(slog.Default()),
		Logger:    slog.Default(),
	})
}

func waitTerminal(t *testing.T, o *Orchestrator, id uuid.UUID) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := o.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if snap.Execution.IsFinished() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("execution did not reach a terminal status")
	return nil
}

// --- Тесты ---

func TestStartAutomaticLinear(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeAutomatic,
		domain.Step{Name: "classify", Order: 1, MaxVisits: 1},
		domain.Step{Name: "extract", Order: 2, MaxVisits: 1},
		domain.Step{Name: "store", Order: 3, MaxVisits: 1},
	)
	inv := &fakeInvoker{handler: func(step *domain.Step, snapshot domain.Context) (*invoker.Result, error) {
		return &invoker.Result{Context: domain.Context{step.Name: "done"}}, nil
	}}
	o := newTestOrchestrator(store, inv)

	snap, err := o.Start(context.Background(), StartRequest{
		WorkflowID: wf.ID,
		Context:    domain.Context{"document": "doc-1"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if snap.Execution.Status != domain.ExecutionStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", snap.Execution.Status)
	}
	if snap.Execution.CurrentStepID != nil {
		t.Error("current step must be reset on completion")
	}
	// Дельты всех шагов и исходный контекст слиты.
	for _, key := range []string{"document", "classify", "extract", "store"} {
		if _, ok := snap.Execution.Context[key]; !ok {
			t.Errorf("context is missing %q: %v", key, snap.Execution.Context)
		}
	}
	if snap.Progress.CompletedSteps != 3 || snap.Progress.Percentage != 100 {
		t.Errorf("progress = %+v", snap.Progress)
	}

	history, err := o.History(context.Background(), snap.Execution.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, se := range history {
		if se.Status != domain.StepStatusSuccess {
			t.Errorf("step %d status = %s", i, se.Status)
		}
		if se.Attempt != 1 {
			t.Errorf("step %d attempt = %d, want 1", i, se.Attempt)
		}
		if se.StartedAt == nil || se.FinishedAt == nil {
			t.Errorf("step %d is missing timestamps", i)
		}
	}
	// Снимок входа первого шага не содержит дельт последующих шагов.
	if _, ok := history[0].InputPayload["classify"]; ok {
		t.Error("input snapshot of the first step must predate its own delta")
	}
}

func TestStartManualStagesWithoutInvoking(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeManual,
		domain.Step{Name: "review", Order: 1, MaxVisits: 1},
		domain.Step{Name: "approve", Order: 2, MaxVisits: 1},
	)
	inv := &fakeInvoker{}
	o := newTestOrchestrator(store, inv)

	snap, err := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if snap.Execution.Status != domain.ExecutionStatusPaused {
		t.Fatalf("status = %s, want PAUSED", snap.Execution.Status)
	}
	if snap.CurrentStepName != "review" {
		t.Errorf("current step = %q, want review", snap.CurrentStepName)
	}
	if inv.callCount() != 0 {
		t.Errorf("handler calls = %d, want 0", inv.callCount())
	}

	history, _ := o.History(context.Background(), snap.Execution.ID)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1 staged attempt", len(history))
	}
	if history[0].Status != domain.StepStatusPending || history[0].Attempt != 1 {
		t.Errorf("staged attempt = %+v", history[0])
	}
}

func TestManualLoopHitsVisitLimit(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeManual,
		domain.Step{Name: "redo", Order: 1, MaxVisits: 3},
	)
	// Обработчик всегда маршрутизирует обратно в себя.
	inv := &fakeInvoker{handler: func(step *domain.Step, snapshot domain.Context) (*invoker.Result, error) {
		return &invoker.Result{Context: domain.Context{}, Next: "redo"}, nil
	}}
	o := newTestOrchestrator(store, inv)

	snap, err := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	execID := snap.Execution.ID

	// Два advance проходят: попытки 1 и 2 выполняются, 2 и 3 стейджатся.
	for i := 0; i < 2; i++ {
		snap, err = o.Advance(context.Background(), execID, nil)
		if err != nil {
			t.Fatalf("Advance %d: %v", i+1, err)
		}
		if snap.Execution.Status != domain.ExecutionStatusPaused {
			t.Fatalf("advance %d: status = %s, want PAUSED", i+1, snap.Execution.Status)
		}
	}

	// Третий advance выполняет попытку 3; повторный возврат в шаг
	// требует попытку 4 и упирается в лимит.
	snap, err = o.Advance(context.Background(), execID, nil)
	if err != nil {
		t.Fatalf("Advance 3: %v", err)
	}
	if snap.Execution.Status != domain.ExecutionStatusFailed {
		t.Fatalf("status = %s, want FAILED", snap.Execution.Status)
	}
	if snap.Execution.ErrorKind != domain.ErrorKindLoopLimitExceeded {
		t.Errorf("error kind = %s, want LOOP_LIMIT_EXCEEDED", snap.Execution.ErrorKind)
	}

	// Отклонённая попытка записи не оставляет.
	history, _ := o.History(context.Background(), execID)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, se := range history {
		if se.Attempt != i+1 {
			t.Errorf("record %d attempt = %d", i, se.Attempt)
		}
		if se.Status != domain.StepStatusSuccess {
			t.Errorf("record %d status = %s, want SUCCESS", i, se.Status)
		}
	}
	if inv.callCount() != 3 {
		t.Errorf("handler calls = %d, want 3", inv.callCount())
	}
}

func TestAdvanceMergesDeltaBeforeInvoke(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeManual,
		domain.Step{Name: "review", Order: 1, MaxVisits: 1},
	)
	var seen domain.Context
	inv := &fakeInvoker{handler: func(step *domain.Step, snapshot domain.Context) (*invoker.Result, error) {
		seen = snapshot
		return &invoker.Result{Context: domain.Context{}}, nil
	}}
	o := newTestOrchestrator(store, inv)

	snap, _ := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID})
	if _, err := o.Advance(context.Background(), snap.Execution.ID, domain.Context{"reviewer": "ana"}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if seen["reviewer"] != "ana" {
		t.Errorf("handler snapshot = %v, want merged delta", seen)
	}
}

func TestUnknownNextStepFailsExecution(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeAutomatic,
		domain.Step{Name: "classify", Order: 1, MaxVisits: 1},
	)
	inv := &fakeInvoker{handler: func(step *domain.Step, snapshot domain.Context) (*invoker.Result, error) {
		return &invoker.Result{Context: domain.Context{}, Next: "no-such-step"}, nil
	}}
	o := newTestOrchestrator(store, inv)

	snap, err := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.Execution.Status != domain.ExecutionStatusFailed {
		t.Fatalf("status = %s, want FAILED", snap.Execution.Status)
	}
	if snap.Execution.ErrorKind != domain.ErrorKindUnknownNextStep {
		t.Errorf("error kind = %s, want UNKNOWN_NEXT_STEP", snap.Execution.ErrorKind)
	}
	// Сам шаг отработал успешно, провалена только маршрутизация.
	if snap.LastStep == nil || snap.LastStep.Status != domain.StepStatusSuccess {
		t.Errorf("last step = %+v", snap.LastStep)
	}
}

func TestInvocationFailureIsTerminal(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeAutomatic,
		domain.Step{Name: "fetch", Order: 1, MaxVisits: 5},
	)
	inv := &fakeInvoker{handler: func(step *domain.Step, snapshot domain.Context) (*invoker.Result, error) {
		return nil, &invoker.InvocationError{Kind: domain.ErrorKindTimeout, Message: "deadline exceeded"}
	}}
	o := newTestOrchestrator(store, inv)

	snap, err := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.Execution.Status != domain.ExecutionStatusFailed {
		t.Fatalf("status = %s, want FAILED", snap.Execution.Status)
	}
	if snap.Execution.ErrorKind != domain.ErrorKindTimeout {
		t.Errorf("error kind = %s, want TIMEOUT", snap.Execution.ErrorKind)
	}
	// Первый провал финален: повторных вызовов нет, хотя max_visits позволяет.
	if inv.callCount() != 1 {
		t.Errorf("handler calls = %d, want 1", inv.callCount())
	}
	if snap.LastStep.Status != domain.StepStatusFailed || snap.LastStep.ErrorKind != domain.ErrorKindTimeout {
		t.Errorf("last step = %+v", snap.LastStep)
	}
}

func TestStartAsyncReachesCompletion(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeAutomatic,
		domain.Step{Name: "a", Order: 1, MaxVisits: 1},
		domain.Step{Name: "b", Order: 2, MaxVisits: 1},
	)
	inv := &fakeInvoker{}
	o := newTestOrchestrator(store, inv)

	snap, err := o.StartAsync(context.Background(), StartRequest{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("StartAsync: %v", err)
	}

	final := waitTerminal(t, o, snap.Execution.ID)
	if final.Execution.Status != domain.ExecutionStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Execution.Status)
	}
	if inv.callCount() != 2 {
		t.Errorf("handler calls = %d, want 2", inv.callCount())
	}
}

func TestCancelDuringInvokeDiscardsResult(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeAutomatic,
		domain.Step{Name: "slow", Order: 1, MaxVisits: 1},
	)

	started := make(chan struct{})
	release := make(chan struct{})
	inv := &fakeInvoker{handler: func(step *domain.Step, snapshot domain.Context) (*invoker.Result, error) {
		close(started)
		<-release
		return &invoker.Result{Context: domain.Context{"slow": "done"}}, nil
	}}
	o := newTestOrchestrator(store, inv)

	snap, err := o.StartAsync(context.Background(), StartRequest{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("StartAsync: %v", err)
	}
	execID := snap.Execution.ID

	// Отмена приходит, пока обработчик ещё работает; после неё
	// обработчик успевает вернуть успешный результат.
	<-started
	if err := o.Cancel(context.Background(), execID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	final := waitTerminal(t, o, execID)
	if final.Execution.Status != domain.ExecutionStatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Execution.Status)
	}
	if final.Execution.ErrorKind != domain.ErrorKindCancelled {
		t.Errorf("error kind = %s, want CANCELLED", final.Execution.ErrorKind)
	}
	// Результат догнавшего отмену вызова отброшен: в контекст ничего
	// не влито.
	if _, ok := final.Execution.Context["slow"]; ok {
		t.Errorf("context = %v, delta of the cancelled step must be discarded", final.Execution.Context)
	}

	history, err := o.History(context.Background(), execID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Status != domain.StepStatusFailed || history[0].ErrorKind != domain.ErrorKindCancelled {
		t.Errorf("attempt = %+v, want FAILED/CANCELLED", history[0])
	}
}

func TestCancelPausedExecution(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeManual,
		domain.Step{Name: "review", Order: 1, MaxVisits: 1},
	)
	o := newTestOrchestrator(store, &fakeInvoker{})

	snap, _ := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID})
	if err := o.Cancel(context.Background(), snap.Execution.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	after, _ := o.Status(context.Background(), snap.Execution.ID)
	if after.Execution.Status != domain.ExecutionStatusFailed {
		t.Fatalf("status = %s, want FAILED", after.Execution.Status)
	}
	if after.Execution.ErrorKind != domain.ErrorKindCancelled {
		t.Errorf("error kind = %s, want CANCELLED", after.Execution.ErrorKind)
	}

	// Застейдженная попытка не остаётся висеть в PENDING.
	history, _ := o.History(context.Background(), snap.Execution.ID)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Status != domain.StepStatusSkipped {
		t.Errorf("staged attempt status = %s, want SKIPPED", history[0].Status)
	}

	// Повторная отмена финального execution отклоняется.
	if err := o.Cancel(context.Background(), snap.Execution.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second cancel error = %v, want ErrInvalidState", err)
	}
}

func TestStartValidation(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &fakeInvoker{})

	if _, err := o.Start(context.Background(), StartRequest{WorkflowID: uuid.New()}); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("unknown workflow error = %v, want ErrWorkflowNotFound", err)
	}

	empty := store.addWorkflow(domain.ModeAutomatic)
	if _, err := o.Start(context.Background(), StartRequest{WorkflowID: empty.ID}); !errors.Is(err, ErrNoSteps) {
		t.Errorf("empty workflow error = %v, want ErrNoSteps", err)
	}

	wf := store.addWorkflow(domain.ModeAutomatic, domain.Step{Name: "a", Order: 1, MaxVisits: 1})
	if _, err := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID, Mode: "SOMETIMES"}); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("bad mode error = %v, want ErrInvalidMode", err)
	}
}

func TestAdvanceValidation(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &fakeInvoker{})

	if _, err := o.Advance(context.Background(), uuid.New(), nil); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("unknown execution error = %v, want ErrExecutionNotFound", err)
	}

	auto := store.addWorkflow(domain.ModeAutomatic, domain.Step{Name: "a", Order: 1, MaxVisits: 1})
	snap, _ := o.Start(context.Background(), StartRequest{WorkflowID: auto.ID})
	if _, err := o.Advance(context.Background(), snap.Execution.ID, nil); !errors.Is(err, ErrNotManual) {
		t.Errorf("automatic advance error = %v, want ErrNotManual", err)
	}
}

func TestModeOverrideAtStart(t *testing.T) {
	store := newMemStore()
	// Workflow по умолчанию automatic, запуск переопределяет в manual.
	wf := store.addWorkflow(domain.ModeAutomatic,
		domain.Step{Name: "a", Order: 1, MaxVisits: 1},
	)
	inv := &fakeInvoker{}
	o := newTestOrchestrator(store, inv)

	snap, err := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID, Mode: domain.ModeManual})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.Execution.Status != domain.ExecutionStatusPaused {
		t.Fatalf("status = %s, want PAUSED", snap.Execution.Status)
	}
	if snap.Execution.Mode != domain.ModeManual {
		t.Errorf("mode = %s, want MANUAL", snap.Execution.Mode)
	}
	if inv.callCount() != 0 {
		t.Errorf("handler calls = %d, want 0", inv.callCount())
	}
}

func TestRecoverInterruptedStep(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeAutomatic,
		domain.Step{Name: "a", Order: 1, MaxVisits: 1},
	)
	o := newTestOrchestrator(store, &fakeInvoker{})

	// Execution завис в RUNNING, его попытка тоже RUNNING — рестарт
	// случился, пока шаг был в полёте.
	steps := store.steps[wf.ID]
	now := time.Now()
	exec := &domain.Execution{
		ID:            uuid.New(),
		WorkflowID:    wf.ID,
		Status:        domain.ExecutionStatusRunning,
		Mode:          domain.ModeAutomatic,
		CurrentStepID: &steps[0].ID,
		Context:       domain.Context{},
		CreatedAt:     now,
	}
	store.Create(context.Background(), exec)
	attempt := &domain.StepExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		StepID:      steps[0].ID,
		WorkflowID:  wf.ID,
		StepName:    "a",
		Status:      domain.StepStatusRunning,
		Attempt:     1,
		StartedAt:   &now,
		CreatedAt:   now,
	}
	store.CreateAttempt(context.Background(), attempt)

	recovered, err := o.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered = %d, want 1", recovered)
	}

	after, _ := o.Status(context.Background(), exec.ID)
	if after.Execution.Status != domain.ExecutionStatusFailed {
		t.Fatalf("status = %s, want FAILED", after.Execution.Status)
	}
	if after.Execution.ErrorKind != domain.ErrorKindInterrupted {
		t.Errorf("error kind = %s, want INTERRUPTED", after.Execution.ErrorKind)
	}
	if after.LastStep.Status != domain.StepStatusFailed || after.LastStep.ErrorKind != domain.ErrorKindInterrupted {
		t.Errorf("last step = %+v", after.LastStep)
	}
}

func TestRecoverResumesAutomaticExecution(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeAutomatic,
		domain.Step{Name: "a", Order: 1, MaxVisits: 1},
		domain.Step{Name: "b", Order: 2, MaxVisits: 1},
	)
	inv := &fakeInvoker{}
	o := newTestOrchestrator(store, inv)

	// Рестарт застал execution между шагами: попытка застейджена,
	// вызова не было.
	steps := store.steps[wf.ID]
	exec := &domain.Execution{
		ID:            uuid.New(),
		WorkflowID:    wf.ID,
		Status:        domain.ExecutionStatusRunning,
		Mode:          domain.ModeAutomatic,
		CurrentStepID: &steps[0].ID,
		Context:       domain.Context{},
		CreatedAt:     time.Now(),
	}
	store.Create(context.Background(), exec)
	store.CreateAttempt(context.Background(), &domain.StepExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		StepID:      steps[0].ID,
		WorkflowID:  wf.ID,
		StepName:    "a",
		Status:      domain.StepStatusPending,
		Attempt:     1,
		CreatedAt:   time.Now(),
	})

	if _, err := o.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	final := waitTerminal(t, o, exec.ID)
	if final.Execution.Status != domain.ExecutionStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Execution.Status)
	}
	if inv.callCount() != 2 {
		t.Errorf("handler calls = %d, want 2", inv.callCount())
	}
}

func TestRecoverRepausesManualExecution(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeManual,
		domain.Step{Name: "review", Order: 1, MaxVisits: 1},
	)
	inv := &fakeInvoker{}
	o := newTestOrchestrator(store, inv)

	steps := store.steps[wf.ID]
	exec := &domain.Execution{
		ID:            uuid.New(),
		WorkflowID:    wf.ID,
		Status:        domain.ExecutionStatusRunning,
		Mode:          domain.ModeManual,
		CurrentStepID: &steps[0].ID,
		Context:       domain.Context{},
		CreatedAt:     time.Now(),
	}
	store.Create(context.Background(), exec)
	store.CreateAttempt(context.Background(), &domain.StepExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		StepID:      steps[0].ID,
		WorkflowID:  wf.ID,
		StepName:    "review",
		Status:      domain.StepStatusPending,
		Attempt:     1,
		CreatedAt:   time.Now(),
	})

	if _, err := o.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	after, _ := o.Status(context.Background(), exec.ID)
	if after.Execution.Status != domain.ExecutionStatusPaused {
		t.Fatalf("status = %s, want PAUSED", after.Execution.Status)
	}
	if inv.callCount() != 0 {
		t.Errorf("handler calls = %d, want 0", inv.callCount())
	}
}

func TestRecordProgress(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeManual,
		domain.Step{Name: "review", Order: 1, MaxVisits: 1},
	)
	o := newTestOrchestrator(store, &fakeInvoker{})

	snap, _ := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID})
	execID := snap.Execution.ID

	hub := o.hub
	sub := hub.Subscribe(execID)
	defer hub.Unsubscribe(sub)

	if err := o.RecordProgress(context.Background(), execID, "review", map[string]any{"pages": 3}); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != broadcast.EventStepProgress || ev.StepName != "review" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("progress event was not published")
	}

	if err := o.RecordProgress(context.Background(), uuid.New(), "review", nil); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("error = %v, want ErrExecutionNotFound", err)
	}
}

func TestCompletionHintDoesNotTransitionState(t *testing.T) {
	store := newMemStore()
	wf := store.addWorkflow(domain.ModeManual,
		domain.Step{Name: "review", Order: 1, MaxVisits: 1},
	)
	o := newTestOrchestrator(store, &fakeInvoker{})

	snap, _ := o.Start(context.Background(), StartRequest{WorkflowID: wf.ID})
	execID := snap.Execution.ID

	sub := o.hub.Subscribe(execID)
	defer o.hub.Unsubscribe(sub)

	if err := o.RecordCompletionHint(context.Background(), execID, "review", map[string]any{"result": "ok"}); err != nil {
		t.Fatalf("RecordCompletionHint: %v", err)
	}

	select {
	case ev := <-sub.C:
		if ev.Payload["completion"] != true {
			t.Errorf("payload = %v, want completion=true", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("hint event was not published")
	}

	after, _ := o.Status(context.Background(), execID)
	if after.Execution.Status != domain.ExecutionStatusPaused {
		t.Errorf("status = %s, hint must not transition state", after.Execution.Status)
	}
}
