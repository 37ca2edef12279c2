package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		client := NewClient(hub, conn)
		client.Register()
		go client.ReadPump()
		go client.WritePump()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestClientReceivesInitThenBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.SetInitDataProvider(func() *InitData {
		return &InitData{States: map[string]string{"dev-1": "parked"}}
	})
	go hub.Run()

	srv := newTestServer(t, hub)
	conn := dial(t, srv)

	msg := readMessage(t, conn)
	require.Equal(t, MsgTypeInit, msg.Type)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.BroadcastMessage(MsgTypeDeparture, map[string]string{"device_id": "dev-1"})

	msg = readMessage(t, conn)
	assert.Equal(t, MsgTypeDeparture, msg.Type)
}

func TestClientUnregisteredOnClose(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.SetInitDataProvider(func() *InitData { return &InitData{} })
	go hub.Run()

	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	readMessage(t, conn)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, 10*time.Millisecond)
}
