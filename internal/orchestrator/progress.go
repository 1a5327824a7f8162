package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/android2133/articulo492/internal/broadcast"
)

// RecordProgress принимает прогресс-отчёт обработчика шага.
//
// Отчёт эфемерен: он попадает в активное состояние execution (если этот
// процесс его ведёт) и ретранслируется подписчикам как step_progress.
// Состояние execution он не меняет.
func (o *Orchestrator) RecordProgress(ctx context.Context, executionID uuid.UUID, stepName string, payload map[string]any) error {
	exec, err := o.getExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.IsFinished() {
		return ErrInvalidState
	}

	if state := o.getActive(executionID); state != nil {
		state.setProgress(stepName, payload)
	}

	o.publish(broadcast.Event{
		Kind:        broadcast.EventStepProgress,
		ExecutionID: executionID,
		WorkflowID:  exec.WorkflowID,
		StepName:    stepName,
		Payload:     payload,
	})
	return nil
}

// RecordCompletionHint принимает от обработчика сигнал "работа сделана".
//
// Хинт информационный: переходов состояния он не вызывает, итог шага
// определяет только ответ обработчика на сам вызов. Подписчикам уходит
// step_progress с completion=true.
func (o *Orchestrator) RecordCompletionHint(ctx context.Context, executionID uuid.UUID, stepName string, payload map[string]any) error {
	hint := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		hint[k] = v
	}
	hint["completion"] = true
	return o.RecordProgress(ctx, executionID, stepName, hint)
}
