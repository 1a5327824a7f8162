// Package recovery содержит фоновый свипер восстановления executions.
//
// Оркестратор восстанавливает подвисшие executions при старте процесса,
// но execution может остаться без драйвера и во время работы (например,
// если горутина-драйвер была прервана падением соседнего компонента).
// Sweeper закрывает эту щель: по расписанию повторяет orchestrator.Recover.
package recovery
