// Package api содержит HTTP API сервер оркестратора.
//
// Структура:
//   - handler.go            — Handler с DI (хранилища, оркестратор, hub, logger)
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, recovery)
//   - response.go           — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — Data Transfer Objects (request/response)
//   - workflow_handler.go   — обработчики для /workflows
//   - execution_handler.go  — запуск, advance, cancel, статус executions
//   - callback_handler.go   — прогресс-callbacks обработчиков шагов
//   - websocket.go          — событийный поток execution по websocket
//
// API предоставляет REST endpoints для управления workflows и executions,
// плюс websocket-канал /ws/{id} для наблюдения за ходом выполнения.
package api
