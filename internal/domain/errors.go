package domain

// ErrorKind — классификация ошибки, с которой упал execution или
// отдельная попытка шага. Сохраняется вместе с текстом ошибки и
// всегда видна в статусных запросах.
type ErrorKind string

const (
	// ErrorKindWorkflowNotFound — неизвестный workflow (ошибка конфигурации).
	ErrorKindWorkflowNotFound ErrorKind = "WORKFLOW_NOT_FOUND"

	// ErrorKindUnknownNextStep — обработчик вернул "next" с именем шага,
	// которого нет в workflow.
	ErrorKindUnknownNextStep ErrorKind = "UNKNOWN_NEXT_STEP"

	// ErrorKindLoopLimitExceeded — исчерпан max_visits шага.
	ErrorKindLoopLimitExceeded ErrorKind = "LOOP_LIMIT_EXCEEDED"

	// ErrorKindUnreachable — обработчик недоступен (ошибка соединения).
	ErrorKindUnreachable ErrorKind = "UNREACHABLE"

	// ErrorKindTimeout — вызов обработчика превысил таймаут.
	ErrorKindTimeout ErrorKind = "TIMEOUT"

	// ErrorKindHandlerError — обработчик вернул неуспешный ответ.
	ErrorKindHandlerError ErrorKind = "HANDLER_ERROR"

	// ErrorKindMalformedResponse — ответ обработчика нарушает контракт.
	ErrorKindMalformedResponse ErrorKind = "MALFORMED_RESPONSE"

	// ErrorKindConcurrencyConflict — запись состояния проиграла гонку
	// и повтор после перечитывания не помог.
	ErrorKindConcurrencyConflict ErrorKind = "CONCURRENCY_CONFLICT"

	// ErrorKindCancelled — execution отменён.
	ErrorKindCancelled ErrorKind = "CANCELLED"

	// ErrorKindInterrupted — процесс перезапустился, пока шаг был
	// в полёте; исход шага неизвестен.
	ErrorKindInterrupted ErrorKind = "INTERRUPTED"
)
