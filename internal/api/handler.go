package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/android2133/articulo492/internal/broadcast"
	"github.com/android2133/articulo492/internal/domain"
	"github.com/android2133/articulo492/internal/orchestrator"
)

// WorkflowStore — операции над workflows, нужные API.
// Реализуется repo.WorkflowRepo.
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow, steps []domain.Step) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	List(ctx context.Context) ([]domain.Workflow, error)
	Update(ctx context.Context, wf *domain.Workflow) error
	Delete(ctx context.Context, id uuid.UUID) error
	AddStep(ctx context.Context, step *domain.Step) error
	ListSteps(ctx context.Context, workflowID uuid.UUID) ([]domain.Step, error)
}

// ExecutionLister — выборка executions по workflow.
// Реализуется repo.ExecutionRepo.
type ExecutionLister interface {
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit, offset int) ([]domain.Execution, int, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	workflows  WorkflowStore
	executions ExecutionLister
	orch       *orchestrator.Orchestrator
	hub        *broadcast.Hub
	logger     *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Workflows    WorkflowStore
	Executions   ExecutionLister
	Orchestrator *orchestrator.Orchestrator
	Hub          *broadcast.Hub
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		workflows:  cfg.Workflows,
		executions: cfg.Executions,
		orch:       cfg.Orchestrator,
		hub:        cfg.Hub,
		logger:     cfg.Logger,
	}
}
