// Package invoker выполняет вызовы обработчиков шагов по HTTP.
//
// Оркестратор передаёт invoker'у шаг и снимок контекста execution,
// а получает обратно дельту контекста и опциональный явный переход.
// Все ошибки вызова классифицированы (InvocationError), чтобы
// оркестратор мог зафиксировать причину провала попытки.
package invoker
