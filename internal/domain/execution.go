package domain

import (
	"time"

	"github.com/google/uuid"
)

// Execution — один запуск workflow.
//
// Execution создаётся при старте запуска, мутируется только
// оркестратором, который этот запуск ведёт, и никогда не удаляется
// оркестратором (хранится для аудита).
type Execution struct {
	// ID — уникальный идентификатор execution.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на выполняемый workflow.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Status — текущий статус выполнения.
	Status ExecutionStatus `json:"status"`

	// Mode — эффективный режим: скопирован из workflow или
	// переопределён при старте.
	Mode Mode `json:"mode"`

	// CurrentStepID — шаг, на котором стоит execution.
	// Nil только в финальном статусе. Всегда ссылается на шаг
	// того же workflow.
	CurrentStepID *uuid.UUID `json:"current_step_id,omitempty"`

	// Context — накопительное состояние, протаскиваемое через все шаги.
	Context Context `json:"context"`

	// ErrorKind — классификация ошибки при статусе FAILED.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// ErrorMessage — текст ошибки при статусе FAILED.
	ErrorMessage string `json:"error_message,omitempty"`

	// CreatedAt — время создания execution.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFinished возвращает true, если execution в финальном статусе.
func (e *Execution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// MarkCompleted переводит execution в COMPLETED и сбрасывает текущий шаг.
func (e *Execution) MarkCompleted() {
	e.Status = ExecutionStatusCompleted
	e.CurrentStepID = nil
}

// MarkFailed переводит execution в FAILED с классифицированной ошибкой.
func (e *Execution) MarkFailed(kind ErrorKind, msg string) {
	e.Status = ExecutionStatusFailed
	e.ErrorKind = kind
	e.ErrorMessage = msg
}

// StepExecution — одна попытка выполнения шага внутри execution.
//
// Создаётся непосредственно перед вызовом обработчика и становится
// неизменяемой после установки FinishedAt.
type StepExecution struct {
	// ID — уникальный идентификатор попытки.
	ID uuid.UUID `json:"id"`

	// ExecutionID — ссылка на родительский execution.
	ExecutionID uuid.UUID `json:"execution_id"`

	// StepID — ссылка на выполняемый шаг.
	StepID uuid.UUID `json:"step_id"`

	// WorkflowID — ссылка на workflow (денормализация для выборок).
	WorkflowID uuid.UUID `json:"workflow_id"`

	// StepName — имя шага на момент попытки (копия Step.Name).
	StepName string `json:"step_name"`

	// Status — текущий статус попытки.
	Status StepStatus `json:"status"`

	// Attempt — порядковый номер входа в этот шаг в рамках execution,
	// начиная с 1. Никогда не превышает Step.MaxVisits.
	Attempt int `json:"attempt"`

	// InputPayload — глубокий снимок контекста, отправленный обработчику.
	InputPayload Context `json:"input_payload,omitempty"`

	// OutputPayload — частичный контекст, возвращённый обработчиком.
	OutputPayload Context `json:"output_payload,omitempty"`

	// ErrorKind — классификация ошибки при статусе FAILED.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// ErrorMessage — текст ошибки при статусе FAILED.
	ErrorMessage string `json:"error_message,omitempty"`

	// StartedAt — время начала вызова обработчика.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения попытки.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность попытки.
// Возвращает 0, если попытка не завершена.
func (se *StepExecution) Duration() time.Duration {
	if se.StartedAt == nil || se.FinishedAt == nil {
		return 0
	}
	return se.FinishedAt.Sub(*se.StartedAt)
}

// MarkRunning переводит попытку в RUNNING с отметкой времени старта.
func (se *StepExecution) MarkRunning() {
	now := time.Now()
	se.Status = StepStatusRunning
	se.StartedAt = &now
}

// MarkSuccess переводит попытку в SUCCESS с результатом обработчика.
func (se *StepExecution) MarkSuccess(output Context) {
	now := time.Now()
	se.Status = StepStatusSuccess
	se.OutputPayload = output
	se.FinishedAt = &now
}

// MarkFailed переводит попытку в FAILED с классифицированной ошибкой.
func (se *StepExecution) MarkFailed(kind ErrorKind, msg string) {
	now := time.Now()
	se.Status = StepStatusFailed
	se.ErrorKind = kind
	se.ErrorMessage = msg
	se.FinishedAt = &now
}

// MarkSkipped помечает незапущенную попытку пропущенной: execution
// финализировался раньше, чем до неё дошёл ход.
func (se *StepExecution) MarkSkipped() {
	now := time.Now()
	se.Status = StepStatusSkipped
	se.FinishedAt = &now
}
