package broadcast

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer — ёмкость канала подписчика. Переполнение означает
// потерю события для этого подписчика, издатель не ждёт.
const subscriberBuffer = 64

// Subscription — подписка на события одного execution.
type Subscription struct {
	// C — канал событий. Закрывается при Unsubscribe или
	// CloseExecution.
	C <-chan Event

	executionID uuid.UUID
	ch          chan Event
}

// Hub — внутрипроцессный брокер событий прогресса.
type Hub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]map[*Subscription]struct{}
	sink func(Event)
}

// NewHub создаёт новый Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

// Subscribe оформляет подписку на события execution.
// Событий, изданных до подписки, подписчик не увидит.
func (h *Hub) Subscribe(executionID uuid.UUID) *Subscription {
	sub := &Subscription{
		executionID: executionID,
		ch:          make(chan Event, subscriberBuffer),
	}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[executionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[executionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe снимает подписку и закрывает её канал.
// Повторный вызов безопасен.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.executionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.executionID)
	}
	close(sub.ch)
}

// SetSink устанавливает глобальный приёмник: он получает каждое
// опубликованное событие независимо от подписок. Используется для
// ретрансляции во внешний брокер. Приёмник не должен блокироваться.
func (h *Hub) SetSink(sink func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

// Publish доставляет событие всем текущим подписчикам execution.
// Без подписчиков событие просто теряется.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.sink != nil {
		h.sink(event)
	}

	set, ok := h.subs[event.ExecutionID]
	if !ok {
		return
	}
	for sub := range set {
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("event dropped: slow subscriber",
				"execution_id", event.ExecutionID,
				"kind", event.Kind,
			)
		}
	}
}

// CloseExecution закрывает все подписки execution.
// Вызывается после перехода execution в терминальный статус.
func (h *Hub) CloseExecution(executionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[executionID]
	if !ok {
		return
	}
	delete(h.subs, executionID)
	for sub := range set {
		close(sub.ch)
	}
}

// SubscriberCount возвращает число активных подписчиков execution.
func (h *Hub) SubscriberCount(executionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[executionID])
}
