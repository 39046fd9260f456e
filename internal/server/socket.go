package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/spaces"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultSocketWriteTimeout = 10 * time.Second
	socketReadLimit           = 64 * 1024

	closeMissingIdentity = 4401
	closeForbidden       = 4403
	closeSpaceNotFound   = 4404
)

// connSocket adapts a websocket connection to realtime.Socket.
type connSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func newConnSocket(conn *websocket.Conn, writeTimeout time.Duration) *connSocket {
	return &connSocket{conn: conn, writeTimeout: writeTimeout}
}

func (s *connSocket) WriteJSON(v interface{}) error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteJSON(v)
}

func (s *connSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (h *httpHandler) handleChatSocket(c *gin.Context) {
	spaceID, ok := parseID(c.Param("space_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "space_not_found"})
		return
	}
	userID := h.resolver.Resolve(c.Request)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("socket upgrade failed", zap.Uint("space_id", spaceID), zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	if userID == "" {
		h.rejectSocket(conn, closeMissingIdentity, "identity required")
		return
	}
	if _, err := h.spaces.Authorize(ctx, spaceID, userID); err != nil {
		switch {
		case errors.Is(err, spaces.ErrSpaceNotFound):
			h.rejectSocket(conn, closeSpaceNotFound, "space not found")
		case errors.Is(err, spaces.ErrNotMember):
			h.rejectSocket(conn, closeForbidden, "not a member")
		default:
			h.logger.Error("socket admission failed", zap.Uint("space_id", spaceID), zap.Error(err))
			h.rejectSocket(conn, websocket.CloseInternalServerErr, "admission failed")
		}
		return
	}

	conn.SetReadLimit(socketReadLimit)
	socket := newConnSocket(conn, h.writeTimeout)
	client := realtime.NewClient(socket)
	h.hub.Accept(spaceID, client)
	defer func() {
		if released := h.hub.Disconnect(spaceID, client); released != "" {
			h.hub.BroadcastTyping(spaceID, released, false)
		}
		h.hub.BroadcastPresence(spaceID)
		_ = socket.Close()
	}()

	origin := chat.Origin{
		SpaceID:   spaceID,
		UserID:    userID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("socket read ended", zap.String("client_id", client.ID()), zap.Error(err))
			}
			return
		}
		var frame chat.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug("malformed socket frame", zap.String("client_id", client.ID()), zap.Error(err))
			continue
		}
		h.handleFrame(ctx, origin, client, frame)
	}
}

func (h *httpHandler) handleFrame(ctx context.Context, origin chat.Origin, client *realtime.Client, frame chat.Frame) {
	spaceID, userID := origin.SpaceID, origin.UserID
	if frame.IsControl() {
		switch frame.Event {
		case realtime.EventPresence:
			h.hub.RegisterUser(spaceID, client, userID)
			h.hub.BroadcastPresence(spaceID)
		case realtime.EventTyping:
			typing := frame.TypingFlag()
			h.hub.RegisterUser(spaceID, client, userID)
			h.hub.SetTyping(spaceID, userID, typing)
			h.hub.BroadcastTyping(spaceID, userID, typing)
		case realtime.EventRead:
			h.hub.RegisterUser(spaceID, client, userID)
			if err := h.chat.UpdateReadCursor(ctx, spaceID, userID, frame.ReadCursor()); err != nil {
				h.logger.Warn("read cursor update failed", zap.Uint("space_id", spaceID), zap.Error(err))
			}
		}
		return
	}

	h.hub.RegisterUser(spaceID, client, userID)
	if _, err := h.chat.Ingest(ctx, origin, frame.Input()); err != nil && !errors.Is(err, chat.ErrMessageRejected) {
		h.logger.Debug("socket message dropped", zap.String("client_id", client.ID()), zap.Error(err))
	}
}

func (h *httpHandler) rejectSocket(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
