package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/android2133/articulo492/internal/broadcast"
	"github.com/android2133/articulo492/internal/domain"
	"github.com/android2133/articulo492/internal/invoker"
	"github.com/android2133/articulo492/internal/repo"
	"github.com/android2133/articulo492/internal/telemetry"
)

// Orchestrator ведёт executions через шаги workflow.
//
// Инварианты:
//   - Каждый execution в каждый момент времени ведётся не более чем одним
//     процессом; условные апдейты статуса в БД защищают от гонок.
//   - Контекст execution меняется только слиянием дельт успешных шагов.
//   - max_visits проверяется до создания попытки: отклонённая попытка не
//     оставляет записи.
type Orchestrator struct {
	workflows WorkflowStore
	execs     ExecutionStore
	stepExecs StepExecutionStore
	invoker   invoker.Invoker
	hub       *broadcast.Hub
	logger    *slog.Logger

	// active — executions, которые этот процесс ведёт прямо сейчас.
	active map[uuid.UUID]*execState
	mu     sync.RWMutex

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopped   bool
	stoppedMu sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Workflows WorkflowStore
	Execs     ExecutionStore
	StepExecs StepExecutionStore
	Invoker   invoker.Invoker
	Hub       *broadcast.Hub
	Logger    *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rootCtx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		workflows: cfg.Workflows,
		execs:     cfg.Execs,
		stepExecs: cfg.StepExecs,
		invoker:   cfg.Invoker,
		hub:       cfg.Hub,
		logger:    logger,
		active:    make(map[uuid.UUID]*execState),
		rootCtx:   rootCtx,
		cancel:    cancel,
	}
}

// Stop останавливает оркестратор: новые executions не принимаются,
// фоновые ведущие горутины дорабатывают текущий шаг и завершаются.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")
	o.cancel()
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли оркестратор.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// StartRequest — параметры запуска execution.
type StartRequest struct {
	WorkflowID uuid.UUID

	// Context — начальный контекст execution.
	Context domain.Context

	// Mode — переопределение режима workflow. Пустое значение —
	// режим по умолчанию из workflow.
	Mode domain.Mode
}

// Start запускает execution синхронно: в automatic-режиме ведёт шаги в
// горутине вызывающего до финального статуса, в manual-режиме возвращается
// сразу после постановки на паузу. Возвращает итоговый снимок.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Snapshot, error) {
	exec, err := o.createExecution(ctx, req)
	if err != nil {
		return nil, err
	}

	if exec.Mode == domain.ModeAutomatic {
		state := o.addActive(exec.ID)
		o.drive(ctx, exec, state)
		o.removeActive(exec.ID)
	}

	return o.Status(ctx, exec.ID)
}

// StartAsync запускает execution и сразу возвращает начальный снимок.
// Automatic-режим ведётся фоновой горутиной оркестратора.
func (o *Orchestrator) StartAsync(ctx context.Context, req StartRequest) (*Snapshot, error) {
	exec, err := o.createExecution(ctx, req)
	if err != nil {
		return nil, err
	}

	if exec.Mode == domain.ModeAutomatic {
		state := o.addActive(exec.ID)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer o.removeActive(exec.ID)
			o.drive(o.rootCtx, exec, state)
		}()
	}

	return o.Status(ctx, exec.ID)
}

// createExecution создаёт execution, ставит его на первый шаг и
// стейджит первую попытку.
func (o *Orchestrator) createExecution(ctx context.Context, req StartRequest) (*domain.Execution, error) {
	if o.IsStopped() {
		return nil, ErrStopped
	}

	wf, err := o.workflows.GetByID(ctx, req.WorkflowID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	steps, err := o.workflows.ListSteps(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	mode := wf.Mode
	if req.Mode != "" {
		if !req.Mode.Valid() {
			return nil, ErrInvalidMode
		}
		mode = req.Mode
	}

	first := &steps[0]
	now := time.Now()
	exec := &domain.Execution{
		ID:            uuid.New(),
		WorkflowID:    wf.ID,
		Mode:          mode,
		CurrentStepID: &first.ID,
		Context:       req.Context.Clone(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if mode == domain.ModeManual {
		exec.Status = domain.ExecutionStatusPaused
	} else {
		exec.Status = domain.ExecutionStatusRunning
	}

	if err := o.execs.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	if _, err := o.stageAttempt(ctx, exec, first); err != nil {
		return nil, err
	}

	telemetry.ExecutionsStarted.Inc()
	o.logger.Info("execution started",
		"execution_id", exec.ID,
		"workflow_id", wf.ID,
		"mode", mode,
	)

	o.publish(broadcast.Event{
		Kind:        broadcast.EventStarted,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		StepName:    first.Name,
		Status:      string(exec.Status),
	})
	if exec.Status == domain.ExecutionStatusPaused {
		o.publish(broadcast.Event{
			Kind:        broadcast.EventPaused,
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			StepName:    first.Name,
			Status:      string(exec.Status),
		})
	}

	return exec, nil
}

// Advance выполняет ровно один шаг приостановленного manual-execution
// и возвращает обновлённый снимок. Delta, если задана, вливается в
// контекст до вызова обработчика.
func (o *Orchestrator) Advance(ctx context.Context, executionID uuid.UUID, delta domain.Context) (*Snapshot, error) {
	if o.IsStopped() {
		return nil, ErrStopped
	}

	exec, err := o.getExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Mode != domain.ModeManual {
		return nil, ErrNotManual
	}
	if exec.Status != domain.ExecutionStatusPaused {
		return nil, ErrInvalidState
	}

	if len(delta) > 0 {
		exec.Context.Merge(delta)
	}
	exec.Status = domain.ExecutionStatusRunning
	if err := o.execs.Update(ctx, exec, domain.ExecutionStatusPaused); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Конкурентный advance или cancel успел раньше.
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("resume execution: %w", err)
	}

	state := o.addActive(exec.ID)
	o.drive(ctx, exec, state)
	o.removeActive(exec.ID)

	return o.Status(ctx, executionID)
}

// Cancel запрашивает отмену execution.
//
// Активный execution отменяется кооперативно: ведущая горутина замечает
// флаг между шагами и финализирует как FAILED/CANCELLED. Неактивный
// (приостановленный) финализируется сразу.
func (o *Orchestrator) Cancel(ctx context.Context, executionID uuid.UUID) error {
	if state := o.getActive(executionID); state != nil {
		state.markCancelled()
		o.logger.Info("cancellation requested", "execution_id", executionID)
		return nil
	}

	exec, err := o.getExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.IsFinished() {
		return ErrInvalidState
	}

	prev := exec.Status
	exec.MarkFailed(domain.ErrorKindCancelled, "cancelled by request")
	if err := o.execs.Update(ctx, exec, prev); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return ErrInvalidState
		}
		return fmt.Errorf("cancel execution: %w", err)
	}
	o.skipStagedAttempt(ctx, exec)
	o.finalizeEvents(exec, "")
	return nil
}

// Status возвращает снимок execution: статус, текущий шаг, агрегированный
// прогресс и эфемерные прогресс-отчёты обработчиков.
func (o *Orchestrator) Status(ctx context.Context, executionID uuid.UUID) (*Snapshot, error) {
	exec, err := o.getExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	steps, err := o.workflows.ListSteps(ctx, exec.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}

	history, err := o.stepExecs.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load step history: %w", err)
	}

	snapshot := &Snapshot{
		Execution: exec,
		Progress:  buildProgress(len(steps), history),
	}
	if len(history) > 0 {
		snapshot.LastStep = &history[len(history)-1]
	}
	if exec.CurrentStepID != nil {
		for i := range steps {
			if steps[i].ID == *exec.CurrentStepID {
				snapshot.CurrentStepName = steps[i].Name
				break
			}
		}
	}
	if state := o.getActive(executionID); state != nil {
		snapshot.StepProgress = state.progressSnapshot()
	}
	return snapshot, nil
}

// History возвращает все попытки шагов execution в хронологическом порядке.
func (o *Orchestrator) History(ctx context.Context, executionID uuid.UUID) ([]domain.StepExecution, error) {
	if _, err := o.getExecution(ctx, executionID); err != nil {
		return nil, err
	}
	history, err := o.stepExecs.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load step history: %w", err)
	}
	return history, nil
}

// buildProgress агрегирует попытки в прогресс execution.
func buildProgress(totalSteps int, history []domain.StepExecution) Progress {
	p := Progress{TotalSteps: totalSteps}
	for i := range history {
		switch history[i].Status {
		case domain.StepStatusSuccess:
			p.CompletedSteps++
		case domain.StepStatusFailed:
			p.FailedSteps++
		}
	}
	if totalSteps > 0 {
		p.Percentage = float64(p.CompletedSteps) / float64(totalSteps) * 100
	}
	return p
}

// getExecution загружает execution, транслируя repo.ErrNotFound.
func (o *Orchestrator) getExecution(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	exec, err := o.execs.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	return exec, nil
}

// publish отправляет событие в hub с отметкой времени.
func (o *Orchestrator) publish(event broadcast.Event) {
	event.Timestamp = time.Now()
	o.hub.Publish(event)
}

// --- Реестр активных executions ---

func (o *Orchestrator) addActive(executionID uuid.UUID) *execState {
	o.mu.Lock()
	defer o.mu.Unlock()

	if state, ok := o.active[executionID]; ok {
		return state
	}
	state := newExecState()
	o.active[executionID] = state
	telemetry.ActiveExecutions.Set(float64(len(o.active)))
	return state
}

func (o *Orchestrator) removeActive(executionID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, executionID)
	telemetry.ActiveExecutions.Set(float64(len(o.active)))
}

func (o *Orchestrator) getActive(executionID uuid.UUID) *execState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active[executionID]
}

// ActiveCount возвращает число executions, которые процесс ведёт сейчас.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}
