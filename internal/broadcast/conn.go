package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Lllllllleong/documentintake/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendQueueSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Authentication happens upstream of the socket endpoints.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frameFunc renders an event for the wire of one surface.
type frameFunc func(topic string, evt models.Event) ([]byte, error)

// Conn is one subscriber socket. All writes go through its send queue and a
// single writer goroutine, so events leave in the order they were queued.
type Conn struct {
	id     string
	ws     *websocket.Conn
	frame  frameFunc
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newConn(ws *websocket.Conn, frame frameFunc, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:     id,
		ws:     ws,
		frame:  frame,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger.With("connectionId", id),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues evt. It reports false if the connection is closed or too slow.
func (c *Conn) Send(topic string, evt models.Event) bool {
	b, err := c.frame(topic, evt)
	if err != nil {
		c.logger.Error("Failed to encode event.", "documentId", evt.DocumentID, "error", err)
		return false
	}
	return c.enqueue(b)
}

// SendJSON queues a control message.
func (c *Conn) SendJSON(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode message.", "error", err)
		return false
	}
	return c.enqueue(b)
}

func (c *Conn) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("Subscriber send queue full, closing connection.")
		c.Close()
		return false
	}
}

// Close stops the writer and closes the socket. It is safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Debug("Socket write failed.", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// serve runs the socket until the peer goes away, passing each text message to
// handle. The connection is detached from fabric on return.
func serve(fabric *Fabric, c *Conn, handle func(raw []byte)) {
	fabric.Attach(c.id, c)
	defer func() {
		fabric.Detach(c.id)
		c.Close()
		c.logger.Info("Subscriber disconnected.")
	}()
	go c.writeLoop()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.logger.Info("Subscriber connected.")

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Error reading message.", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(message)
	}
}
