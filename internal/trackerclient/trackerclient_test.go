package trackerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/swarmcast/swarmcast/internal/wire"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		welcome, _ := wire.Encode(wire.Envelope{Type: wire.EnvelopeWelcome, ParticipantID: "p1"})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, welcome))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}))
}

func wsURLFor(ts *httptest.Server) string {
	return "ws" + ts.URL[len("http"):]
}

func TestClient_ReceivesWelcomeAndEchoesSend(t *testing.T) {
	ts := echoServer(t)
	defer ts.Close()

	c := New(Config{URL: wsURLFor(ts), ReconnectDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case e := <-c.Inbound:
		require.Equal(t, wire.EnvelopeWelcome, e.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for welcome")
	}

	require.Eventually(t, func() bool {
		return c.Send(wire.Envelope{Type: wire.EnvelopeLeave, ContentID: "c1"}) == nil
	}, time.Second, 10*time.Millisecond)

	select {
	case e := <-c.Inbound:
		require.Equal(t, wire.EnvelopeLeave, e.Type)
		require.Equal(t, "c1", e.ContentID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestClient_OnReconnectFiresOnFirstConnect(t *testing.T) {
	ts := echoServer(t)
	defer ts.Close()

	var calls int32
	c := New(Config{URL: wsURLFor(ts), ReconnectDelay: 50 * time.Millisecond})
	c.OnReconnect = func() { atomic.AddInt32(&calls, 1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ReconnectsAfterServerDrop(t *testing.T) {
	ts := echoServer(t)
	defer ts.Close()

	var calls int32
	c := New(Config{URL: wsURLFor(ts), ReconnectDelay: 30 * time.Millisecond})
	c.OnReconnect = func() { atomic.AddInt32(&calls, 1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestClient_SendBeforeConnectFails(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/nonexistent", ReconnectDelay: time.Second})
	err := c.Send(wire.Envelope{Type: wire.EnvelopeLeave})
	require.Error(t, err)
}

func TestClient_CloseStopsReconnecting(t *testing.T) {
	ts := echoServer(t)
	defer ts.Close()

	c := New(Config{URL: wsURLFor(ts), ReconnectDelay: 30 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Send(wire.Envelope{Type: wire.EnvelopeLeave}) == nil }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after Close")
	}
}
