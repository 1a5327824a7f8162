package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workflow — определение многошагового процесса обработки документов.
//
// Workflow — это "шаблон": упорядоченный список именованных шагов.
// Каждый запуск (Execution) проходит шаги конкретного workflow.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// Name — имя workflow (например, "alta-usuario", "validacion-ine").
	Name string `json:"name"`

	// Mode — режим выполнения по умолчанию для новых executions.
	// Может быть переопределён при старте конкретного execution.
	Mode Mode `json:"mode"`

	// CreatedAt — время создания workflow.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// Step — один шаг workflow.
//
// Шаги — это конфигурация: они создаются до того, как появятся executions.
// Бизнес-логика шага живёт в удалённом обработчике и вызывается по имени
// шага через Step Invoker.
type Step struct {
	// ID — уникальный идентификатор шага.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на родительский workflow.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Name — имя шага, уникальное в рамках workflow.
	// По нему обработчик выбирается в registry и по нему же
	// резолвится явный "next" из ответа обработчика.
	Name string `json:"name"`

	// Order — позиция шага в workflow, уникальная в рамках workflow.
	// Определяет последовательный порядок выполнения, если обработчик
	// не вернул явный "next".
	Order int `json:"order"`

	// MaxVisits — максимальное число входов в этот шаг в рамках
	// одного execution. Защита от бесконечных циклов, когда обработчик
	// раз за разом возвращает тот же шаг в "next".
	MaxVisits int `json:"max_visits"`

	// Config — конфигурация шага, передаётся обработчику при вызове.
	// Может содержать "timeout_sec" для переопределения таймаута вызова.
	Config map[string]any `json:"config,omitempty"`

	// CreatedAt — время создания шага.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}
