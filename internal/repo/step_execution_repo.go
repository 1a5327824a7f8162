package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/android2133/articulo492/internal/domain"
)

// StepExecutionRepo — репозиторий для записей попыток выполнения шагов.
//
// Порядок записи фиксирован: запись создаётся до вызова обработчика,
// started_at проставляется вместе с переходом в RUNNING, а контекст
// execution отражает результат шага только после того, как попытка
// помечена SUCCESS. Читатель никогда не увидит RUNNING без started_at.
type StepExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewStepExecutionRepo создаёт новый StepExecutionRepo.
func NewStepExecutionRepo(pool *pgxpool.Pool) *StepExecutionRepo {
	return &StepExecutionRepo{pool: pool}
}

// Create создаёт новую запись попытки.
func (r *StepExecutionRepo) Create(ctx context.Context, se *domain.StepExecution) error {
	inputJSON, err := json.Marshal(se.InputPayload)
	if err != nil {
		return fmt.Errorf("marshal input payload: %w", err)
	}
	outputJSON, err := json.Marshal(se.OutputPayload)
	if err != nil {
		return fmt.Errorf("marshal output payload: %w", err)
	}

	query := `
		INSERT INTO step_executions (id, execution_id, step_id, workflow_id, step_name,
		                             status, attempt, input_payload, output_payload,
		                             error_kind, error_message, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.pool.Exec(ctx, query,
		se.ID,
		se.ExecutionID,
		se.StepID,
		se.WorkflowID,
		se.StepName,
		se.Status,
		se.Attempt,
		inputJSON,
		outputJSON,
		nullString(string(se.ErrorKind)),
		nullString(se.ErrorMessage),
		se.StartedAt,
		se.FinishedAt,
		se.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert step execution: %w", err)
	}
	return nil
}

// Update обновляет запись попытки.
func (r *StepExecutionRepo) Update(ctx context.Context, se *domain.StepExecution) error {
	inputJSON, err := json.Marshal(se.InputPayload)
	if err != nil {
		return fmt.Errorf("marshal input payload: %w", err)
	}
	outputJSON, err := json.Marshal(se.OutputPayload)
	if err != nil {
		return fmt.Errorf("marshal output payload: %w", err)
	}

	query := `
		UPDATE step_executions
		SET status = $2, input_payload = $8, output_payload = $3, error_kind = $4, error_message = $5,
		    started_at = $6, finished_at = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		se.ID,
		se.Status,
		outputJSON,
		nullString(string(se.ErrorKind)),
		nullString(se.ErrorMessage),
		se.StartedAt,
		se.FinishedAt,
		inputJSON,
	)
	if err != nil {
		return fmt.Errorf("update step execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAttempts возвращает число входов в шаг в рамках execution.
func (r *StepExecutionRepo) CountAttempts(ctx context.Context, executionID, stepID uuid.UUID) (int, error) {
	query := `
		SELECT count(*)
		FROM step_executions
		WHERE execution_id = $1 AND step_id = $2
	`
	var count int
	if err := r.pool.QueryRow(ctx, query, executionID, stepID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

// ListByExecution возвращает все попытки execution в хронологическом порядке.
func (r *StepExecutionRepo) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]domain.StepExecution, error) {
	query := stepExecutionSelect + `
		WHERE execution_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list step executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.StepExecution
	for rows.Next() {
		se, err := scanStepExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *se)
	}
	return execs, rows.Err()
}

// LatestForStep возвращает последнюю попытку шага в рамках execution.
func (r *StepExecutionRepo) LatestForStep(ctx context.Context, executionID, stepID uuid.UUID) (*domain.StepExecution, error) {
	query := stepExecutionSelect + `
		WHERE execution_id = $1 AND step_id = $2
		ORDER BY attempt DESC
		LIMIT 1
	`
	return scanStepExecution(r.pool.QueryRow(ctx, query, executionID, stepID))
}

// --- Helpers ---

const stepExecutionSelect = `
	SELECT id, execution_id, step_id, workflow_id, step_name, status, attempt,
	       input_payload, output_payload, error_kind, error_message,
	       started_at, finished_at, created_at
	FROM step_executions
`

// scanStepExecution сканирует одну строку в StepExecution.
func scanStepExecution(row pgx.Row) (*domain.StepExecution, error) {
	var se domain.StepExecution
	var inputJSON, outputJSON []byte
	var errorKind, errorMessage *string

	err := row.Scan(
		&se.ID,
		&se.ExecutionID,
		&se.StepID,
		&se.WorkflowID,
		&se.StepName,
		&se.Status,
		&se.Attempt,
		&inputJSON,
		&outputJSON,
		&errorKind,
		&errorMessage,
		&se.StartedAt,
		&se.FinishedAt,
		&se.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step execution: %w", err)
	}

	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &se.InputPayload); err != nil {
			return nil, fmt.Errorf("unmarshal input payload: %w", err)
		}
	}
	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &se.OutputPayload); err != nil {
			return nil, fmt.Errorf("unmarshal output payload: %w", err)
		}
	}
	if errorKind != nil {
		se.ErrorKind = domain.ErrorKind(*errorKind)
	}
	if errorMessage != nil {
		se.ErrorMessage = *errorMessage
	}
	return &se, nil
}
