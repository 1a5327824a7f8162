package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/android2133/articulo492/internal/domain"
)

// Узкие интерфейсы хранилищ. Реализуются репозиториями из internal/repo;
// в тестах подменяются in-memory фейками.

// WorkflowStore — чтение workflows и их шагов.
type WorkflowStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	GetStep(ctx context.Context, id uuid.UUID) (*domain.Step, error)
	GetStepByName(ctx context.Context, workflowID uuid.UUID, name string) (*domain.Step, error)
	ListSteps(ctx context.Context, workflowID uuid.UUID) ([]domain.Step, error)
}

// ExecutionStore — чтение и запись executions.
//
// Update условный: строка меняется только из ожидаемого статуса,
// проигранная гонка — repo.ErrConflict.
type ExecutionStore interface {
	Create(ctx context.Context, exec *domain.Execution) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	Update(ctx context.Context, exec *domain.Execution, expected domain.ExecutionStatus) error
	ListByStatus(ctx context.Context, status domain.ExecutionStatus, limit int) ([]domain.Execution, error)
}

// StepExecutionStore — чтение и запись попыток шагов.
type StepExecutionStore interface {
	Create(ctx context.Context, se *domain.StepExecution) error
	Update(ctx context.Context, se *domain.StepExecution) error
	CountAttempts(ctx context.Context, executionID, stepID uuid.UUID) (int, error)
	ListByExecution(ctx context.Context, executionID uuid.UUID) ([]domain.StepExecution, error)
	LatestForStep(ctx context.Context, executionID, stepID uuid.UUID) (*domain.StepExecution, error)
}
