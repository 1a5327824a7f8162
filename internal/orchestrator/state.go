package orchestrator

import (
	"sync"

	"github.com/android2133/articulo492/internal/domain"
)

// execState — эфемерное состояние execution, который этот процесс ведёт
// прямо сейчас. Создаётся при взятии execution в работу и удаляется при
// паузе или финализации. Рестарт процесса его теряет — это нормально,
// прогресс-записи best-effort.
type execState struct {
	mu sync.Mutex

	// cancelled — кооперативный флаг отмены. Ведущий цикл проверяет
	// его между шагами.
	cancelled bool

	// progress — последний прогресс-отчёт по имени шага,
	// присланный обработчиком через callback.
	progress map[string]map[string]any
}

func newExecState() *execState {
	return &execState{
		progress: make(map[string]map[string]any),
	}
}

// markCancelled взводит флаг отмены.
func (s *execState) markCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// isCancelled возвращает текущее значение флага отмены.
func (s *execState) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// setProgress запоминает прогресс-отчёт шага.
func (s *execState) setProgress(stepName string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[stepName] = payload
}

// progressSnapshot возвращает копию накопленных прогресс-отчётов.
func (s *execState) progressSnapshot() map[string]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]any, len(s.progress))
	for step, payload := range s.progress {
		out[step] = payload
	}
	return out
}

// Progress — агрегированный прогресс execution.
type Progress struct {
	TotalSteps     int     `json:"total_steps"`
	CompletedSteps int     `json:"completed_steps"`
	FailedSteps    int     `json:"failed_steps"`
	Percentage     float64 `json:"percentage"`
}

// Snapshot — полное наблюдаемое состояние execution на момент запроса.
type Snapshot struct {
	Execution       *domain.Execution         `json:"execution"`
	CurrentStepName string                    `json:"current_step_name,omitempty"`
	Progress        Progress                  `json:"progress"`
	LastStep        *domain.StepExecution     `json:"last_step,omitempty"`
	StepProgress    map[string]map[string]any `json:"step_progress,omitempty"`
}
