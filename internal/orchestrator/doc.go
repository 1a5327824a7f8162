// Package orchestrator ведёт executions через шаги workflow.
//
// Ядро — шаговый цикл (cycle.go): взять попытку текущего шага, снять
// снимок контекста, вызвать обработчик, влить дельту, выбрать следующий
// шаг. Automatic-executions цикл гонит подряд, manual останавливаются
// после каждого шага и ждут Advance.
//
// Состояние долговечно в Postgres; в памяти живут только кооперативные
// флаги отмены и прогресс-отчёты обработчиков (state.go). Подвисшие
// после рестарта executions разбирает Recover (recover.go).
package orchestrator
