package server

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingPeriodLessThanPongWait(t *testing.T) {
	assert.Less(t, pingPeriod, pongWait)
	assert.Positive(t, writeWait)
}

func TestDefaultWebSocketTransport_Broadcast(t *testing.T) {
	env := newMonitorEnv(t)

	connected := make(chan string, 2)
	env.transport.SetConnectHandler(func(connID string) error {
		connected <- connID
		return nil
	})
	var mu sync.Mutex
	var received []string
	env.transport.SetMessageHandler(func(connID string, message []byte) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, connID+":"+string(message))
		return nil
	})
	disconnected := make(chan string, 2)
	env.transport.SetDisconnectHandler(func(connID string) {
		disconnected <- connID
	})

	c1 := env.dial(t)
	c2 := env.dial(t)
	id1 := <-connected
	id2 := <-connected
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, env.transport.ClientCount())

	require.NoError(t, env.transport.BroadcastMessage([]byte("hello")))
	for _, c := range []*websocket.Conn{c1, c2} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	}

	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && strings.HasSuffix(received[0], ":ping")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c2.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler was not called")
	}
	assert.Equal(t, 1, env.transport.ClientCount())
}

func TestDefaultWebSocketTransport_SendMessageUnknownClient(t *testing.T) {
	env := newMonitorEnv(t)
	err := env.transport.SendMessage("missing", []byte("x"))
	assert.ErrorContains(t, err, "not found")
}

func TestDefaultWebSocketTransport_StartStop(t *testing.T) {
	transport := NewDefaultWebSocketTransport(context.Background(), "127.0.0.1:0")
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Start(StartOptions{Ready: ready})
	}()

	select {
	case <-ready:
	case err := <-errCh:
		t.Fatalf("Start failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	require.NoError(t, transport.Stop())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestDefaultWebSocketTransport_StartListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	transport := NewDefaultWebSocketTransport(context.Background(), l.Addr().String())
	assert.Error(t, transport.Start(StartOptions{}))
}

func TestDefaultWebSocketTransport_StopClosesClients(t *testing.T) {
	env := newMonitorEnv(t)
	connected := make(chan string, 1)
	env.transport.SetConnectHandler(func(connID string) error {
		connected <- connID
		return nil
	})
	conn := env.dial(t)
	<-connected

	_ = env.transport.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}
