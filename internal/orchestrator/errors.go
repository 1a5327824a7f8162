package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrWorkflowNotFound — workflow не найден в БД.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound — execution не найден в БД.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNoSteps — у workflow нет шагов, запускать нечего.
	ErrNoSteps = errors.New("workflow has no steps")

	// ErrInvalidMode — неизвестный режим выполнения.
	ErrInvalidMode = errors.New("invalid execution mode")

	// ErrInvalidState — операция неприменима к текущему статусу execution.
	ErrInvalidState = errors.New("execution is not in a valid state for this operation")

	// ErrNotManual — advance применим только к manual-режиму.
	ErrNotManual = errors.New("execution is not in manual mode")

	// ErrStopped — оркестратор останавливается и не принимает работу.
	ErrStopped = errors.New("orchestrator stopped")
)
