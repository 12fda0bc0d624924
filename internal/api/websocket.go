package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/logdict/backend/internal/models"
)

// WebSocket message types for the build progress protocol
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeProgress  = "progress"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const wsWriteWait = 10 * time.Second

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes build progress to WebSocket clients until the
// build finishes.
type WebSocketHandler struct {
	builds   BuildManager
	upgrader websocket.Upgrader
	interval time.Duration
	log      *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket progress handler
func NewWebSocketHandler(builds BuildManager, log *slog.Logger) *WebSocketHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebSocketHandler{
		builds: builds,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS middleware already decides which origins reach the API
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		interval: progressInterval,
		log:      log.With("component", "ws"),
	}
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
}

// HandleBuildWebSocket upgrades the connection and streams the build session
// as "progress" messages, then a final "complete" or "error" message.
func (wsh *WebSocketHandler) HandleBuildWebSocket(c echo.Context) error {
	id := c.Param("buildId")
	if _, ok := wsh.builds.GetSession(id); !ok {
		return NewNotFoundError("build", id)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conn := &wsConn{ws: ws}
	log := wsh.log.With("build", id)
	log.Debug("client connected")

	conn.send(WSMessage{Type: MsgTypeConnected, ID: id, Timestamp: time.Now().UnixMilli()})

	// Reader: answers pings and notices when the client goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("connection error", "error", err)
				}
				return
			}
			switch msg.Type {
			case MsgTypePing:
				conn.send(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
			default:
				conn.send(WSMessage{
					Type:      MsgTypeError,
					Timestamp: time.Now().UnixMilli(),
					Payload:   mustJSON(WSErrorResponse{Type: MsgTypeError, Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"}),
				})
			}
		}
	}()

	ticker := time.NewTicker(wsh.interval)
	defer ticker.Stop()

	for {
		sess, ok := wsh.builds.GetSession(id)
		if !ok {
			conn.send(WSMessage{
				Type:      MsgTypeError,
				ID:        id,
				Timestamp: time.Now().UnixMilli(),
				Payload:   mustJSON(WSErrorResponse{Type: MsgTypeError, Message: "build not found", Code: "NOT_FOUND"}),
			})
			conn.close(websocket.CloseNormalClosure, "build not found")
			return nil
		}

		if err := conn.send(WSMessage{Type: messageType(sess), ID: id, Timestamp: time.Now().UnixMilli(), Payload: mustJSON(sess)}); err != nil {
			log.Debug("write failed", "error", err)
			return nil
		}
		if sess.Status.Done() {
			conn.close(websocket.CloseNormalClosure, string(sess.Status))
			// Give the client a moment to answer the close frame.
			select {
			case <-gone:
			case <-time.After(time.Second):
			}
			return nil
		}

		select {
		case <-gone:
			log.Debug("client disconnected")
			return nil
		case <-ticker.C:
		}
	}
}

func messageType(s *models.BuildSession) string {
	switch s.Status {
	case models.BuildStatusComplete:
		return MsgTypeComplete
	case models.BuildStatusError:
		return MsgTypeError
	}
	return MsgTypeProgress
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
