// Package cli реализует инструмент командной строки Articulo.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с API оркестратора.
// Работает через HTTP и websocket, не импортирует внутренние пакеты
// сервера. Используется для управления workflows и executions.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API оркестратора. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	workflows, err := client.ListWorkflows()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: articulo workflow list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - workflow: list, create, show, update, delete, steps, add-step
//   - execution: start, list, advance, cancel, status, steps, watch
//
// Каждая группа создаётся через фабричную функцию (NewWorkflowCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
//
// execution watch подключается к /ws/{id} и стримит события до
// финализации execution или Ctrl+C.
package cli
