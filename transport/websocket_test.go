package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWebSocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverMsg := make(chan interface{}, 1)
	var server *WebSocket

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		server = NewWebSocket(conn, nil, WebSocketOptions{WriteTimeout: time.Second})
		server.OnMessage(func(p interface{}) { serverMsg <- p })
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	clientTransport := NewWebSocket(client, nil, WebSocketOptions{WriteTimeout: time.Second})

	require.NoError(t, clientTransport.SendMessage(`{"jsonrpc":"2.0","method":"a.b"}`))

	select {
	case msg := <-serverMsg:
		require.Equal(t, `{"jsonrpc":"2.0","method":"a.b"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message")
	}
}

func TestWebSocketOnConnectFiresImmediately(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		NewWebSocket(conn, nil, WebSocketOptions{})
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	transport := NewWebSocket(client, nil, WebSocketOptions{})

	connected := false
	transport.OnConnect(func() { connected = true })
	require.True(t, connected)
}
