package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/android2133/articulo492/internal/broadcast"
	"github.com/android2133/articulo492/internal/domain"
	"github.com/android2133/articulo492/internal/repo"
)

// recoverBatchSize — сколько подвисших executions обрабатывается за
// один проход восстановления.
const recoverBatchSize = 100

// Recover обрабатывает executions, оставшиеся в RUNNING без ведущего
// процесса (после рестарта).
//
// Политика:
//   - последняя попытка текущего шага в RUNNING — исход вызова
//     неизвестен, попытка и execution фиксируются как INTERRUPTED;
//   - иначе automatic-execution переводится обратно в ведение
//     (фоновая горутина), manual-execution возвращается в PAUSED
//     и ждёт advance.
//
// Возвращает число executions, взятых в работу или финализированных.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	stuck, err := o.execs.ListByStatus(ctx, domain.ExecutionStatusRunning, recoverBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list running executions: %w", err)
	}

	recovered := 0
	for i := range stuck {
		exec := &stuck[i]
		if o.getActive(exec.ID) != nil {
			// Этот процесс его и ведёт.
			continue
		}
		if err := o.recoverOne(ctx, exec); err != nil {
			o.logger.Error("recovery failed",
				"execution_id", exec.ID,
				"error", err,
			)
			continue
		}
		recovered++
	}
	return recovered, nil
}

func (o *Orchestrator) recoverOne(ctx context.Context, exec *domain.Execution) error {
	if exec.CurrentStepID == nil {
		return o.failExecution(ctx, exec, "", domain.ErrorKindInterrupted,
			"execution was running without a current step")
	}

	latest, err := o.stepExecs.LatestForStep(ctx, exec.ID, *exec.CurrentStepID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("load latest attempt: %w", err)
	}

	if latest != nil && latest.Status == domain.StepStatusRunning {
		// Обработчик был вызван, ответа никто не дождался.
		latest.MarkFailed(domain.ErrorKindInterrupted, "process restarted while step was in flight")
		if err := o.stepExecs.Update(ctx, latest); err != nil {
			return fmt.Errorf("mark interrupted attempt: %w", err)
		}
		o.publishStepFinished(exec, latest)
		return o.failExecution(ctx, exec, latest.StepName, domain.ErrorKindInterrupted,
			fmt.Sprintf("step %q was in flight during restart", latest.StepName))
	}

	if exec.Mode == domain.ModeManual {
		// Manual execution не ведут в фоне: возвращаем на паузу.
		exec.Status = domain.ExecutionStatusPaused
		if err := o.persistExecution(ctx, exec, domain.ExecutionStatusRunning); err != nil &&
			!errors.Is(err, repo.ErrConflict) {
			return err
		}
		o.publish(broadcast.Event{
			Kind:        broadcast.EventPaused,
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			Status:      string(exec.Status),
		})
		o.logger.Info("manual execution re-paused after restart", "execution_id", exec.ID)
		return nil
	}

	o.logger.Info("resuming execution after restart", "execution_id", exec.ID)
	state := o.addActive(exec.ID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.removeActive(exec.ID)
		o.drive(o.rootCtx, exec, state)
	}()
	return nil
}
