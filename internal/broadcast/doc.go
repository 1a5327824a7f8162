// Package broadcast — внутрипроцессный pub/sub для прогресса executions.
//
// Hub держит подписчиков по execution и доставляет им события в порядке
// публикации. Хранилища нет: подписчик видит только события, изданные
// после его подписки. Медленный подписчик теряет события, а не
// блокирует издателя.
package broadcast
