package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/android2133/articulo492/internal/domain"
)

// WorkflowRepo — репозиторий для работы с workflows и их шагами.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// Create создаёт workflow вместе с его шагами в одной транзакции.
func (r *WorkflowRepo) Create(ctx context.Context, wf *domain.Workflow, steps []domain.Step) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO workflows (id, name, mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`
	if _, err := tx.Exec(ctx, query, wf.ID, wf.Name, wf.Mode, wf.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert workflow: %w", err)
	}

	for i := range steps {
		if err := insertStep(ctx, tx, &steps[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID возвращает workflow по ID.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	query := `
		SELECT id, name, mode, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`
	var wf domain.Workflow
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&wf.ID, &wf.Name, &wf.Mode, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	return &wf, nil
}

// List возвращает все workflows.
func (r *WorkflowRepo) List(ctx context.Context) ([]domain.Workflow, error) {
	query := `
		SELECT id, name, mode, created_at, updated_at
		FROM workflows
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		var wf domain.Workflow
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Mode, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// Update обновляет имя и режим workflow.
func (r *WorkflowRepo) Update(ctx context.Context, wf *domain.Workflow) error {
	query := `
		UPDATE workflows
		SET name = $2, mode = $3, updated_at = now()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, wf.ID, wf.Name, wf.Mode)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет workflow вместе с шагами (каскад на уровне схемы).
func (r *WorkflowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Steps ---

// AddStep добавляет шаг к существующему workflow.
func (r *WorkflowRepo) AddStep(ctx context.Context, step *domain.Step) error {
	return insertStep(ctx, r.pool, step)
}

// GetStep возвращает шаг по ID.
func (r *WorkflowRepo) GetStep(ctx context.Context, id uuid.UUID) (*domain.Step, error) {
	query := stepSelect + ` WHERE id = $1`
	return scanStep(r.pool.QueryRow(ctx, query, id))
}

// GetStepByName возвращает шаг workflow по имени.
func (r *WorkflowRepo) GetStepByName(ctx context.Context, workflowID uuid.UUID, name string) (*domain.Step, error) {
	query := stepSelect + ` WHERE workflow_id = $1 AND name = $2`
	return scanStep(r.pool.QueryRow(ctx, query, workflowID, name))
}

// ListSteps возвращает шаги workflow, упорядоченные по "order".
func (r *WorkflowRepo) ListSteps(ctx context.Context, workflowID uuid.UUID) ([]domain.Step, error) {
	query := stepSelect + ` WHERE workflow_id = $1 ORDER BY "order" ASC`
	rows, err := r.pool.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// --- Helpers ---

const stepSelect = `
	SELECT id, workflow_id, name, "order", max_visits, config, created_at, updated_at
	FROM steps
`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertStep(ctx context.Context, db execer, step *domain.Step) error {
	configJSON, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("marshal step config: %w", err)
	}

	query := `
		INSERT INTO steps (id, workflow_id, name, "order", max_visits, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	_, err = db.Exec(ctx, query,
		step.ID,
		step.WorkflowID,
		step.Name,
		step.Order,
		step.MaxVisits,
		configJSON,
		step.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// scanStep сканирует одну строку в Step.
func scanStep(row pgx.Row) (*domain.Step, error) {
	var step domain.Step
	var configJSON []byte

	err := row.Scan(
		&step.ID,
		&step.WorkflowID,
		&step.Name,
		&step.Order,
		&step.MaxVisits,
		&configJSON,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &step.Config); err != nil {
			return nil, fmt.Errorf("unmarshal step config: %w", err)
		}
	}
	return &step, nil
}

// isUniqueViolation проверяет ошибку уникального индекса (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
