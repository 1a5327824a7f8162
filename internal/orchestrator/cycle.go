package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/android2133/articulo492/internal/broadcast"
	"github.com/android2133/articulo492/internal/domain"
	"github.com/android2133/articulo492/internal/invoker"
	"github.com/android2133/articulo492/internal/repo"
	"github.com/android2133/articulo492/internal/telemetry"
)

// errLoopLimit — попытка отклонена лимитом max_visits. Внутренний
// сигнал stageAttempt, наружу транслируется как LOOP_LIMIT_EXCEEDED.
var errLoopLimit = errors.New("max visits exhausted")

// drive ведёт execution шаг за шагом, пока он в RUNNING.
//
// Флаг отмены проверяется между шагами и сразу после возврата
// обработчика: результат вызова, догнавшего отмену, отбрасывается.
func (o *Orchestrator) drive(ctx context.Context, exec *domain.Execution, state *execState) {
	for exec.Status == domain.ExecutionStatusRunning {
		if state.isCancelled() {
			o.finalizeCancelled(ctx, exec)
			return
		}
		if ctx.Err() != nil {
			// Остановка процесса: execution остаётся RUNNING в БД,
			// его подхватит recovery после рестарта.
			return
		}

		if err := o.runCycle(ctx, exec, state); err != nil {
			o.logger.Error("step cycle aborted",
				"execution_id", exec.ID,
				"error", err,
			)
			return
		}
	}
}

// runCycle выполняет один шаговый цикл: берёт или создаёт попытку
// текущего шага, вызывает обработчик, вливает дельту, выбирает
// следующий шаг и сохраняет состояние.
func (o *Orchestrator) runCycle(ctx context.Context, exec *domain.Execution, state *execState) error {
	if exec.CurrentStepID == nil {
		return fmt.Errorf("execution %s is running without a current step", exec.ID)
	}

	step, err := o.workflows.GetStep(ctx, *exec.CurrentStepID)
	if err != nil {
		return fmt.Errorf("load current step: %w", err)
	}

	attempt, err := o.adoptOrStageAttempt(ctx, exec, step)
	if errors.Is(err, errLoopLimit) {
		return o.failExecution(ctx, exec, step.Name, domain.ErrorKindLoopLimitExceeded,
			fmt.Sprintf("step %q exceeded max_visits=%d", step.Name, step.MaxVisits))
	}
	if err != nil {
		return err
	}

	// Снимок контекста фиксируется до вызова: обработчик видит именно
	// его, дальнейшие изменения контекста снимок не трогают.
	snapshot := exec.Context.Clone()
	attempt.InputPayload = snapshot
	attempt.MarkRunning()
	if err := o.stepExecs.Update(ctx, attempt); err != nil {
		return fmt.Errorf("mark attempt running: %w", err)
	}

	o.publish(broadcast.Event{
		Kind:        broadcast.EventStepStarted,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		StepName:    step.Name,
		Status:      string(domain.StepStatusRunning),
		Payload:     map[string]any{"attempt": attempt.Attempt},
	})

	started := time.Now()
	result, invErr := o.invoker.Invoke(ctx, step, snapshot)
	if state.isCancelled() {
		// Отмена пришла, пока вызов был в полёте: его результат
		// отбрасывается, в контекст ничего не вливается.
		telemetry.StepDuration.WithLabelValues("failed").Observe(time.Since(started).Seconds())
		attempt.MarkFailed(domain.ErrorKindCancelled, "cancelled while step was in flight")
		if err := o.stepExecs.Update(ctx, attempt); err != nil {
			return fmt.Errorf("mark attempt cancelled: %w", err)
		}
		o.publishStepFinished(exec, attempt)
		return o.failExecution(ctx, exec, step.Name, domain.ErrorKindCancelled, "cancelled by request")
	}
	if invErr != nil {
		telemetry.StepDuration.WithLabelValues("failed").Observe(time.Since(started).Seconds())

		kind, msg := classifyInvocation(invErr)
		attempt.MarkFailed(kind, msg)
		if err := o.stepExecs.Update(ctx, attempt); err != nil {
			return fmt.Errorf("mark attempt failed: %w", err)
		}
		o.publishStepFinished(exec, attempt)
		return o.failExecution(ctx, exec, step.Name, kind, msg)
	}
	telemetry.StepDuration.WithLabelValues("success").Observe(time.Since(started).Seconds())

	attempt.MarkSuccess(result.Context)
	if err := o.stepExecs.Update(ctx, attempt); err != nil {
		return fmt.Errorf("mark attempt success: %w", err)
	}
	exec.Context.Merge(result.Context)
	o.publishStepFinished(exec, attempt)

	next, err := o.resolveNext(ctx, exec, step, result.Next)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o.failExecution(ctx, exec, step.Name, domain.ErrorKindUnknownNextStep,
				fmt.Sprintf("step %q routed to unknown step %q", step.Name, result.Next))
		}
		return err
	}

	if next == nil {
		// Шагов больше нет: execution завершён.
		exec.MarkCompleted()
		if err := o.persistExecution(ctx, exec, domain.ExecutionStatusRunning); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return nil
			}
			return err
		}
		o.finalizeEvents(exec, step.Name)
		return nil
	}

	// Переход: лимит проверяется до создания попытки, отклонённый
	// переход не оставляет записи.
	if _, err := o.stageAttempt(ctx, exec, next); err != nil {
		if errors.Is(err, errLoopLimit) {
			return o.failExecution(ctx, exec, step.Name, domain.ErrorKindLoopLimitExceeded,
				fmt.Sprintf("step %q exceeded max_visits=%d", next.Name, next.MaxVisits))
		}
		return err
	}

	exec.CurrentStepID = &next.ID
	if exec.Mode == domain.ModeManual {
		exec.Status = domain.ExecutionStatusPaused
	}
	if err := o.persistExecution(ctx, exec, domain.ExecutionStatusRunning); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil
		}
		return err
	}

	if exec.Status == domain.ExecutionStatusPaused {
		o.publish(broadcast.Event{
			Kind:        broadcast.EventPaused,
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			StepName:    next.Name,
			Status:      string(exec.Status),
		})
	}
	return nil
}

// adoptOrStageAttempt возвращает незавершённую попытку текущего шага
// (застейдженную ранее) либо создаёт новую.
func (o *Orchestrator) adoptOrStageAttempt(ctx context.Context, exec *domain.Execution, step *domain.Step) (*domain.StepExecution, error) {
	latest, err := o.stepExecs.LatestForStep(ctx, exec.ID, step.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load latest attempt: %w", err)
	}
	if latest != nil && !latest.Status.IsTerminal() {
		return latest, nil
	}
	return o.stageAttempt(ctx, exec, step)
}

// stageAttempt создаёт попытку шага в PENDING, предварительно проверив
// лимит max_visits.
func (o *Orchestrator) stageAttempt(ctx context.Context, exec *domain.Execution, step *domain.Step) (*domain.StepExecution, error) {
	count, err := o.stepExecs.CountAttempts(ctx, exec.ID, step.ID)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	if step.MaxVisits > 0 && count+1 > step.MaxVisits {
		return nil, errLoopLimit
	}

	se := &domain.StepExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		StepID:      step.ID,
		WorkflowID:  exec.WorkflowID,
		StepName:    step.Name,
		Status:      domain.StepStatusPending,
		Attempt:     count + 1,
		CreatedAt:   time.Now(),
	}
	if err := o.stepExecs.Create(ctx, se); err != nil {
		return nil, fmt.Errorf("stage attempt: %w", err)
	}
	return se, nil
}

// skipStagedAttempt помечает застейдженную PENDING-попытку текущего шага
// пропущенной: execution финализируется, ход до неё уже не дойдёт.
// Ошибки не фатальны — висящая попытка не мешает финализации.
func (o *Orchestrator) skipStagedAttempt(ctx context.Context, exec *domain.Execution) {
	if exec.CurrentStepID == nil {
		return
	}
	latest, err := o.stepExecs.LatestForStep(ctx, exec.ID, *exec.CurrentStepID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			o.logger.Warn("failed to load staged attempt",
				"execution_id", exec.ID,
				"error", err,
			)
		}
		return
	}
	if latest.Status != domain.StepStatusPending {
		return
	}
	latest.MarkSkipped()
	if err := o.stepExecs.Update(ctx, latest); err != nil {
		o.logger.Warn("failed to skip staged attempt",
			"execution_id", exec.ID,
			"error", err,
		)
	}
}

// resolveNext выбирает следующий шаг: явный "next" по имени либо
// следующий по порядку. Nil — шагов больше нет.
func (o *Orchestrator) resolveNext(ctx context.Context, exec *domain.Execution, current *domain.Step, explicit string) (*domain.Step, error) {
	if explicit != "" {
		return o.workflows.GetStepByName(ctx, exec.WorkflowID, explicit)
	}

	steps, err := o.workflows.ListSteps(ctx, exec.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	for i := range steps {
		if steps[i].Order > current.Order {
			return &steps[i], nil
		}
	}
	return nil, nil
}

// failExecution финализирует execution как FAILED с классифицированной
// ошибкой.
func (o *Orchestrator) failExecution(ctx context.Context, exec *domain.Execution, stepName string, kind domain.ErrorKind, msg string) error {
	prev := exec.Status
	exec.MarkFailed(kind, msg)
	if err := o.persistExecution(ctx, exec, prev); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil
		}
		return err
	}
	o.finalizeEvents(exec, stepName)
	return nil
}

// finalizeCancelled финализирует execution после кооперативной отмены.
func (o *Orchestrator) finalizeCancelled(ctx context.Context, exec *domain.Execution) {
	o.skipStagedAttempt(ctx, exec)
	if err := o.failExecution(ctx, exec, "", domain.ErrorKindCancelled, "cancelled by request"); err != nil {
		o.logger.Error("failed to finalize cancelled execution",
			"execution_id", exec.ID,
			"error", err,
		)
	}
}

// persistExecution сохраняет execution с условным апдейтом.
// Проигранная гонка повторяется один раз после перечитывания; если
// строку увёл другой процесс, его состояние принимается как истина.
func (o *Orchestrator) persistExecution(ctx context.Context, exec *domain.Execution, expected domain.ExecutionStatus) error {
	err := o.execs.Update(ctx, exec, expected)
	if !errors.Is(err, repo.ErrConflict) {
		return err
	}

	current, getErr := o.execs.GetByID(ctx, exec.ID)
	if getErr != nil {
		return getErr
	}
	if current.Status == expected {
		return o.execs.Update(ctx, exec, expected)
	}

	o.logger.Warn("execution state lost race, adopting stored state",
		"execution_id", exec.ID,
		"status", current.Status,
	)
	*exec = *current
	return repo.ErrConflict
}

// finalizeEvents издаёт финальное событие, обновляет метрики и
// закрывает подписки execution.
func (o *Orchestrator) finalizeEvents(exec *domain.Execution, stepName string) {
	switch exec.Status {
	case domain.ExecutionStatusCompleted:
		telemetry.ExecutionsCompleted.Inc()
		o.logger.Info("execution completed", "execution_id", exec.ID)
		o.publish(broadcast.Event{
			Kind:        broadcast.EventCompleted,
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			StepName:    stepName,
			Status:      string(exec.Status),
		})
	case domain.ExecutionStatusFailed:
		telemetry.ExecutionsFailed.WithLabelValues(string(exec.ErrorKind)).Inc()
		o.logger.Warn("execution failed",
			"execution_id", exec.ID,
			"error_kind", exec.ErrorKind,
			"error", exec.ErrorMessage,
		)
		o.publish(broadcast.Event{
			Kind:        broadcast.EventFailed,
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			StepName:    stepName,
			Status:      string(exec.Status),
			Payload: map[string]any{
				"error_kind":    string(exec.ErrorKind),
				"error_message": exec.ErrorMessage,
			},
		})
	}
	o.hub.CloseExecution(exec.ID)
}

// publishStepFinished издаёт событие завершения попытки шага.
func (o *Orchestrator) publishStepFinished(exec *domain.Execution, attempt *domain.StepExecution) {
	payload := map[string]any{
		"attempt":     attempt.Attempt,
		"duration_ms": attempt.Duration().Milliseconds(),
	}
	if attempt.ErrorKind != "" {
		payload["error_kind"] = string(attempt.ErrorKind)
		payload["error_message"] = attempt.ErrorMessage
	}
	o.publish(broadcast.Event{
		Kind:        broadcast.EventStepFinished,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		StepName:    attempt.StepName,
		Status:      string(attempt.Status),
		Payload:     payload,
	})
}

// classifyInvocation извлекает классификацию из ошибки вызова.
func classifyInvocation(err error) (domain.ErrorKind, string) {
	var invErr *invoker.InvocationError
	if errors.As(err, &invErr) {
		return invErr.Kind, invErr.Message
	}
	return domain.ErrorKindHandlerError, err.Error()
}
