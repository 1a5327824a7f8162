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

// ExecutionRepo — репозиторий для работы с executions.
//
// Обновления статуса условные: строка меняется только если её текущий
// статус совпадает с ожидаемым. Проигранная гонка (например, при
// возобновлении после рестарта) возвращает ErrConflict — вызывающий
// перечитывает состояние и повторяет один раз.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// Create создаёт новый execution.
func (r *ExecutionRepo) Create(ctx context.Context, exec *domain.Execution) error {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, status, mode, current_step_id,
		                        context, error_kind, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		exec.ID,
		exec.WorkflowID,
		exec.Status,
		exec.Mode,
		exec.CurrentStepID,
		contextJSON,
		nullString(string(exec.ErrorKind)),
		nullString(exec.ErrorMessage),
		exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetByID возвращает execution по ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	query := executionSelect + ` WHERE id = $1`
	return scanExecution(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет execution при условии совпадения ожидаемого статуса.
//
// Именно этот предикат делает восстановление после краха однозначным:
// два процесса, пытающиеся вести один execution, не затирают друг друга —
// второй получает ErrConflict.
func (r *ExecutionRepo) Update(ctx context.Context, exec *domain.Execution, expected domain.ExecutionStatus) error {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		UPDATE executions
		SET status = $2, current_step_id = $3, context = $4,
		    error_kind = $5, error_message = $6, updated_at = now()
		WHERE id = $1 AND status = $7
	`
	result, err := r.pool.Exec(ctx, query,
		exec.ID,
		exec.Status,
		exec.CurrentStepID,
		contextJSON,
		nullString(string(exec.ErrorKind)),
		nullString(exec.ErrorMessage),
		expected,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Либо строки нет, либо статус уже другой.
		if _, getErr := r.GetByID(ctx, exec.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

// ListByWorkflow возвращает executions workflow с пагинацией,
// новые первыми.
func (r *ExecutionRepo) ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit, offset int) ([]domain.Execution, int, error) {
	var total int
	countQuery := `SELECT count(*) FROM executions WHERE workflow_id = $1`
	if err := r.pool.QueryRow(ctx, countQuery, workflowID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	query := executionSelect + `
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, workflowID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		execs = append(execs, *exec)
	}
	return execs, total, rows.Err()
}

// ListByStatus возвращает executions в указанном статусе,
// старые первыми. Используется recovery-свипером после рестарта.
func (r *ExecutionRepo) ListByStatus(ctx context.Context, status domain.ExecutionStatus, limit int) ([]domain.Execution, error) {
	query := executionSelect + `
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions by status: %w", err)
	}
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

// --- Helpers ---

const executionSelect = `
	SELECT id, workflow_id, status, mode, current_step_id, context,
	       error_kind, error_message, created_at, updated_at
	FROM executions
`

// scanExecution сканирует одну строку в Execution.
func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var exec domain.Execution
	var contextJSON []byte
	var errorKind, errorMessage *string

	err := row.Scan(
		&exec.ID,
		&exec.WorkflowID,
		&exec.Status,
		&exec.Mode,
		&exec.CurrentStepID,
		&contextJSON,
		&errorKind,
		&errorMessage,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	exec.Context = domain.Context{}
	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &exec.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if errorKind != nil {
		exec.ErrorKind = domain.ErrorKind(*errorKind)
	}
	if errorMessage != nil {
		exec.ErrorMessage = *errorMessage
	}
	return &exec, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
