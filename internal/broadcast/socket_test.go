package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentintake/internal/models"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := ws.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func TestRawSocketSubscribeAndReceive(t *testing.T) {
	f := NewFabric(NewRegistry(), nil, nil)
	srv := httptest.NewServer(NewRawHandler(f, nil))
	defer srv.Close()
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(models.SocketMessage{Type: models.SocketSubscribe, DocumentID: "d1"}))
	var ack models.SocketMessage
	readJSON(t, ws, &ack)
	assert.Equal(t, models.SocketSubscribed, ack.Type)
	assert.Equal(t, "d1", ack.DocumentID)

	require.NoError(t, f.Publish(context.Background(), progressEvent("d1", "", 55)))
	require.NoError(t, f.Publish(context.Background(), progressEvent("d2", "", 10)))
	require.NoError(t, f.Publish(context.Background(), progressEvent("d1", "", 60)))

	var first, second models.Event
	readJSON(t, ws, &first)
	readJSON(t, ws, &second)
	assert.Equal(t, models.EventProgressUpdated, first.Type())
	assert.Equal(t, 55, first.Data.(models.ProgressData).Progress)
	assert.Equal(t, 60, second.Data.(models.ProgressData).Progress)
	assert.Equal(t, "d1", second.DocumentID)

	require.NoError(t, ws.WriteJSON(models.SocketMessage{Type: models.SocketPing}))
	var pong models.SocketMessage
	readJSON(t, ws, &pong)
	assert.Equal(t, models.SocketPong, pong.Type)
}

func TestRawSocketRejectsBadMessages(t *testing.T) {
	f := NewFabric(NewRegistry(), nil, nil)
	srv := httptest.NewServer(NewRawHandler(f, nil))
	defer srv.Close()
	ws := dial(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	var msg models.SocketMessage
	readJSON(t, ws, &msg)
	assert.Equal(t, models.SocketError, msg.Type)

	require.NoError(t, ws.WriteJSON(models.SocketMessage{Type: models.SocketSubscribe}))
	readJSON(t, ws, &msg)
	assert.Equal(t, models.SocketError, msg.Type)
	assert.Equal(t, "documentId is required", msg.Message)
}

func TestRawSocketDisconnectClearsSubscriptions(t *testing.T) {
	f := NewFabric(NewRegistry(), nil, nil)
	srv := httptest.NewServer(NewRawHandler(f, nil))
	defer srv.Close()
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(models.SocketMessage{Type: models.SocketSubscribeUser, UserID: "u1"}))
	var ack models.SocketMessage
	readJSON(t, ws, &ack)
	assert.Len(t, f.Registry().UserSubscribersOf("u1"), 1)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		topics, conns := f.Registry().Len()
		return topics == 0 && conns == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannelJoinReplyAndEvents(t *testing.T) {
	f := NewFabric(NewRegistry(), nil, nil)
	srv := httptest.NewServer(NewChannelHandler(f, nil))
	defer srv.Close()
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(models.ChannelFrame{Topic: "user:u1", Event: models.ChannelJoin, Ref: "1"}))
	var reply struct {
		Topic   string                     `json:"topic"`
		Event   string                     `json:"event"`
		Ref     string                     `json:"ref"`
		Payload models.ChannelReplyPayload `json:"payload"`
	}
	readJSON(t, ws, &reply)
	assert.Equal(t, models.ChannelReply, reply.Event)
	assert.Equal(t, "1", reply.Ref)
	assert.Equal(t, "ok", reply.Payload.Status)

	require.NoError(t, f.Publish(context.Background(), models.NewEvent("d7", "u1", models.CompletedData{
		Stage: "completed", Progress: 100, Timestamp: time.Now(),
	})))

	var frame struct {
		Topic   string       `json:"topic"`
		Event   string       `json:"event"`
		Payload models.Event `json:"payload"`
	}
	readJSON(t, ws, &frame)
	assert.Equal(t, "user:u1", frame.Topic)
	assert.Equal(t, string(models.EventProcessingCompleted), frame.Event)
	assert.Equal(t, "d7", frame.Payload.DocumentID)
	assert.Equal(t, 100, frame.Payload.Data.(models.CompletedData).Progress)

	require.NoError(t, ws.WriteJSON(models.ChannelFrame{Topic: "room:1", Event: models.ChannelJoin, Ref: "2"}))
	readJSON(t, ws, &reply)
	assert.Equal(t, "error", reply.Payload.Status)
}

func TestChannelHandlerRequiresUpgrade(t *testing.T) {
	f := NewFabric(NewRegistry(), nil, nil)
	srv := httptest.NewServer(NewChannelHandler(f, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
