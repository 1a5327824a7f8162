// Package mq ретранслирует события прогресса executions в RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление topic-обменника articulo.events
//   - publisher.go  — публикация событий жизненного цикла
//
// RabbitMQ опционален: без него оркестратор работает полностью,
// внешние потребители событий просто ничего не получают.
package mq
