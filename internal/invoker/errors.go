package invoker

import (
	"fmt"

	"github.com/android2133/articulo492/internal/domain"
)

// InvocationError — классифицированная ошибка вызова обработчика шага.
//
// Kind определяет, как оркестратор зафиксирует провал попытки:
// UNREACHABLE, TIMEOUT, HANDLER_ERROR или MALFORMED_RESPONSE.
type InvocationError struct {
	Kind    domain.ErrorKind
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// unreachable создаёт ошибку недоступности обработчика.
func unreachable(format string, args ...any) *InvocationError {
	return &InvocationError{Kind: domain.ErrorKindUnreachable, Message: fmt.Sprintf(format, args...)}
}

// timeout создаёт ошибку таймаута вызова.
func timeout(format string, args ...any) *InvocationError {
	return &InvocationError{Kind: domain.ErrorKindTimeout, Message: fmt.Sprintf(format, args...)}
}

// handlerError создаёт ошибку, о которой сообщил сам обработчик.
func handlerError(format string, args ...any) *InvocationError {
	return &InvocationError{Kind: domain.ErrorKindHandlerError, Message: fmt.Sprintf(format, args...)}
}

// malformed создаёт ошибку некорректного ответа обработчика.
func malformed(format string, args ...any) *InvocationError {
	return &InvocationError{Kind: domain.ErrorKindMalformedResponse, Message: fmt.Sprintf(format, args...)}
}
