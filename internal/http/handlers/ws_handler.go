// README: WebSocket endpoint; pumps hub frames to the socket and client frames into a chat session.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"roadside/internal/http/middleware"
	"roadside/internal/modules/chat"
	"roadside/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	maxFrameSize = 16 << 10
)

// SessionOpener is implemented by chat.Service.
type SessionOpener interface {
	Open(caller types.ID) *chat.Session
}

type WSHandler struct {
	chat     SessionOpener
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewWSHandler(svc SessionOpener, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		chat: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	caller := types.ID(middleware.CallerUID(c))
	session := h.chat.Open(caller)
	log := h.log.WithField("user", caller)
	log.Debug("socket connected")

	done := make(chan struct{})
	go h.writePump(conn, session, done)

	// the request context ends when Serve returns, so reads use a detached one
	ctx := context.WithoutCancel(c.Request.Context())
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("socket read ended")
			}
			break
		}
		session.Handle(ctx, raw)
	}

	session.Close()
	<-done
	_ = conn.Close()
	log.Debug("socket disconnected")
}

// writePump is the only writer on conn. It exits when the session queue closes.
func (h *WSHandler) writePump(conn *websocket.Conn, session *chat.Session, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
