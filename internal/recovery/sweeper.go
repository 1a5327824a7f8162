package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/android2133/articulo492/internal/orchestrator"
)

// DefaultSpec — расписание подбора подвисших executions по умолчанию.
const DefaultSpec = "@every 30s"

// Sweeper периодически опрашивает БД на предмет executions, оставшихся
// в статусе RUNNING без активного драйвера (после падения процесса или
// потери лидерства), и передаёт их оркестратору на восстановление.
type Sweeper struct {
	orch   *orchestrator.Orchestrator
	cron   *cron.Cron
	spec   string
	logger *slog.Logger
}

// Config — конфигурация Sweeper.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Spec         string // cron-выражение или @every; default DefaultSpec
	Logger       *slog.Logger
}

// New создаёт новый Sweeper.
func New(cfg Config) *Sweeper {
	spec := cfg.Spec
	if spec == "" {
		spec = SpecFromEnv()
	}

	return &Sweeper{
		orch:   cfg.Orchestrator,
		cron:   cron.New(),
		spec:   spec,
		logger: cfg.Logger,
	}
}

// SpecFromEnv читает расписание из RECOVERY_SWEEP_SPEC.
func SpecFromEnv() string {
	if spec := os.Getenv("RECOVERY_SWEEP_SPEC"); spec != "" {
		return spec
	}
	return DefaultSpec
}

// Start регистрирует задачу и запускает планировщик.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule recovery sweep %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("recovery sweeper started", "spec", s.spec)
	return nil
}

// Stop останавливает планировщик и дожидается завершения текущего свипа.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("recovery sweeper stopped")
}

// Sweep выполняет один проход восстановления.
// Ошибка не фатальна: следующий тик попробует снова.
func (s *Sweeper) Sweep(ctx context.Context) {
	if s.orch.IsStopped() {
		return
	}

	recovered, err := s.orch.Recover(ctx)
	if err != nil {
		s.logger.Error("recovery sweep failed", "error", err)
		return
	}
	if recovered > 0 {
		s.logger.Info("recovery sweep completed", "recovered", recovered)
	}
}
