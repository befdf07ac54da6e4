package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// ChannelHandler serves the multiplexed channel surface. Frames are
// {topic, event, ref, payload}; clients join and leave "document:<id>" and
// "user:<id>" topics and receive events on the topic they matched.
type ChannelHandler struct {
	fabric *Fabric
	logger *slog.Logger
}

func NewChannelHandler(fabric *Fabric, logger *slog.Logger) *ChannelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelHandler{fabric: fabric, logger: logger}
}

func (h *ChannelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed.", "error", err)
		return
	}
	c := newConn(ws, func(topic string, evt models.Event) ([]byte, error) {
		return json.Marshal(models.ChannelFrame{Topic: topic, Event: string(evt.Type()), Payload: evt})
	}, h.logger.With("surface", "channel"))

	serve(h.fabric, c, func(raw []byte) { h.handle(c, raw) })
}

func (h *ChannelHandler) handle(c *Conn, raw []byte) {
	var frame models.ChannelFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		reply(c, models.ChannelFrame{}, "error", map[string]string{"reason": "invalid frame"})
		return
	}
	reg := h.fabric.Registry()

	switch frame.Event {
	case models.ChannelJoin:
		if _, _, ok := ParseTopic(frame.Topic); !ok {
			reply(c, frame, "error", map[string]string{"reason": "unknown topic"})
			return
		}
		reg.SubscribeTopic(c.id, frame.Topic)
		reply(c, frame, "ok", map[string]string{})
	case models.ChannelLeave:
		reg.UnsubscribeTopic(c.id, frame.Topic)
		reply(c, frame, "ok", map[string]string{})
	case models.ChannelHeartbeat:
		reply(c, frame, "ok", map[string]string{})
	default:
		reply(c, frame, "error", map[string]string{"reason": "unknown event " + frame.Event})
	}
}

func reply(c *Conn, to models.ChannelFrame, status string, response any) {
	c.SendJSON(models.ChannelFrame{
		Topic:   to.Topic,
		Event:   models.ChannelReply,
		Ref:     to.Ref,
		Payload: models.ChannelReplyPayload{Status: status, Response: response},
	})
}
