package domain

// Mode — режим выполнения execution.
type Mode string

const (
	// ModeManual — пауза после каждого шага, продолжение только
	// по явному advance.
	ModeManual Mode = "MANUAL"

	// ModeAutomatic — шаги выполняются подряд без внешнего вмешательства.
	ModeAutomatic Mode = "AUTOMATIC"
)

// Valid проверяет, что режим известен.
func (m Mode) Valid() bool {
	return m == ModeManual || m == ModeAutomatic
}

// ExecutionStatus — статус выполнения execution.
//
// Переходы монотонны:
//
//	RUNNING → PAUSED | COMPLETED | FAILED
//	PAUSED  → RUNNING
//	COMPLETED и FAILED — финальные.
type ExecutionStatus string

const (
	// ExecutionStatusRunning — execution выполняется.
	ExecutionStatusRunning ExecutionStatus = "RUNNING"

	// ExecutionStatusPaused — execution приостановлен (manual mode),
	// ожидает advance.
	ExecutionStatusPaused ExecutionStatus = "PAUSED"

	// ExecutionStatusCompleted — все шаги успешно пройдены.
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"

	// ExecutionStatusFailed — execution завершился с ошибкой.
	ExecutionStatusFailed ExecutionStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный:
// новые StepExecution больше не создаются.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// StepStatus — статус одной попытки выполнения шага.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCESS
//	                  ↘ FAILED
//	PENDING → SKIPPED (шаг не будет выполнен)
type StepStatus string

const (
	// StepStatusPending — запись создана, вызов обработчика ещё не начался.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusRunning — обработчик вызван, ответа ещё нет.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusSuccess — обработчик успешно отработал.
	StepStatusSuccess StepStatus = "SUCCESS"

	// StepStatusFailed — вызов завершился ошибкой.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — попытка отброшена без выполнения.
	StepStatusSkipped StepStatus = "SKIPPED"
)

// IsTerminal возвращает true, если попытка завершена.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSuccess, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}
