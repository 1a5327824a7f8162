package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/android2133/articulo492/internal/broadcast"
	"github.com/android2133/articulo492/internal/telemetry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsBufferSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WatchExecution апгрейдит соединение до websocket и стримит события
// execution до его финализации или отключения клиента.
// GET /ws/{id}
func (h *Handler) WatchExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}
	snap, err := h.orch.Status(r.Context(), id)
	if err != nil {
		HandleOrchestratorError(w, h.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if snap.Execution.IsFinished() {
		// Финализированный execution событий больше не издаёт: подписка
		// лишь воскресила бы закрытую запись в hub'е.
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution finished"))
		_ = conn.Close()
		return
	}

	sub := h.hub.Subscribe(id)
	telemetry.WSSubscribers.Inc()

	client := &wsClient{
		conn:   conn,
		sub:    sub,
		hub:    h.hub,
		logger: h.logger,
	}
	go client.run()
}

// wsClient — одно websocket-соединение, привязанное к подписке hub'а.
type wsClient struct {
	conn   *websocket.Conn
	sub    *broadcast.Subscription
	hub    *broadcast.Hub
	logger *slog.Logger
}

func (c *wsClient) run() {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		telemetry.WSSubscribers.Dec()
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// Read-горутина нужна только чтобы заметить закрытие клиентом.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case event, ok := <-c.sub.C:
			if !ok {
				// Execution финализирован, подписка закрыта hub'ом.
				_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution finished"))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Warn("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
