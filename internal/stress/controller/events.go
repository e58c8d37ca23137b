package controller

import (
	"time"

	"stressjudge/internal/stress/observer"
	"stressjudge/pkg/utils/logger"
	"stressjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventBuffer    = 256
	eventWriteWait = 5 * time.Second
	eventPongWait  = 60 * time.Second
	eventPingEvery = eventPongWait * 9 / 10
)

// Events streams live progress of an active run over a WebSocket.
// The stream ends with a close frame once the run has finished.
func (h *RunController) Events(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		response.BadRequest(c, "Invalid run id")
		return
	}

	events, unsubscribe, err := h.runService.Subscribe(runID, eventBuffer)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go readUntilClosed(conn, gone)

	streamEvents(c, conn, events, gone)
}

// readUntilClosed drains client frames so pongs and close frames are processed.
func readUntilClosed(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func streamEvents(c *gin.Context, conn *websocket.Conn, events *observer.Channel, gone <-chan struct{}) {
	ctx := c.Request.Context()
	ticker := time.NewTicker(eventPingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug(ctx, "websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}
