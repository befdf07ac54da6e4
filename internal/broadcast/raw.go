package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// RawHandler serves the plain socket surface. Clients send
// {"type":"subscribe","documentId":...} and receive events as
// {type, documentId, data, userId?}.
type RawHandler struct {
	fabric *Fabric
	logger *slog.Logger
}

func NewRawHandler(fabric *Fabric, logger *slog.Logger) *RawHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RawHandler{fabric: fabric, logger: logger}
}

func (h *RawHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed.", "error", err)
		return
	}
	c := newConn(ws, func(_ string, evt models.Event) ([]byte, error) {
		return json.Marshal(evt)
	}, h.logger.With("surface", "raw"))

	serve(h.fabric, c, func(raw []byte) { h.handle(c, raw) })
}

func (h *RawHandler) handle(c *Conn, raw []byte) {
	var msg models.SocketMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.SendJSON(models.SocketMessage{Type: models.SocketError, Message: "invalid message"})
		return
	}
	reg := h.fabric.Registry()

	switch msg.Type {
	case models.SocketSubscribe:
		if msg.DocumentID == "" {
			c.SendJSON(models.SocketMessage{Type: models.SocketError, Message: "documentId is required"})
			return
		}
		reg.Subscribe(c.id, msg.DocumentID)
		c.SendJSON(models.SocketMessage{Type: models.SocketSubscribed, DocumentID: msg.DocumentID})
	case models.SocketUnsubscribe:
		if msg.DocumentID == "" {
			c.SendJSON(models.SocketMessage{Type: models.SocketError, Message: "documentId is required"})
			return
		}
		reg.Unsubscribe(c.id, msg.DocumentID)
		c.SendJSON(models.SocketMessage{Type: models.SocketUnsubscribed, DocumentID: msg.DocumentID})
	case models.SocketSubscribeUser:
		if msg.UserID == "" {
			c.SendJSON(models.SocketMessage{Type: models.SocketError, Message: "userId is required"})
			return
		}
		reg.SubscribeUser(c.id, msg.UserID)
		c.SendJSON(models.SocketMessage{Type: models.SocketSubscribed, UserID: msg.UserID})
	case models.SocketUnsubscribeUser:
		if msg.UserID == "" {
			c.SendJSON(models.SocketMessage{Type: models.SocketError, Message: "userId is required"})
			return
		}
		reg.UnsubscribeUser(c.id, msg.UserID)
		c.SendJSON(models.SocketMessage{Type: models.SocketUnsubscribed, UserID: msg.UserID})
	case models.SocketPing:
		c.SendJSON(models.SocketMessage{Type: models.SocketPong})
	default:
		c.SendJSON(models.SocketMessage{Type: models.SocketError, Message: "unknown message type " + msg.Type})
	}
}
