package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHub(t *testing.T, pingPeriod time.Duration) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	h := New(zap.NewNop())
	h.pingPeriod = pingPeriod
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Register(conn, []byte(`{"phase":"idle"}`))
		defer h.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return h, server, cancel
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return string(msg)
}

func TestViewerReceivesInitialStateThenBroadcasts(t *testing.T) {
	h, server, cancel := startHub(t, PingPeriod)
	defer server.Close()
	defer cancel()

	conn := dial(t, server)
	defer conn.Close()

	if got := readMessage(t, conn); got != `{"phase":"idle"}` {
		t.Fatalf("unexpected initial message: %s", got)
	}

	h.Broadcast([]byte(`{"phase":"pending"}`))
	if got := readMessage(t, conn); got != `{"phase":"pending"}` {
		t.Fatalf("unexpected broadcast: %s", got)
	}
	if h.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", h.ClientCount())
	}
}

func TestBroadcastAfterStopDoesNotBlock(t *testing.T) {
	h := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	done := make(chan struct{})
	go func() {
		for i := 0; i < 32; i++ {
			h.Broadcast([]byte("late"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked after hub stopped")
	}
}

func TestIdleViewerIsPinged(t *testing.T) {
	_, server, cancel := startHub(t, 20*time.Millisecond)
	defer server.Close()
	defer cancel()

	conn := dial(t, server)
	defer conn.Close()
	readMessage(t, conn)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("idle viewer was never pinged")
	}
}

func TestBroadcastNeverBlocksAndKeepsLatest(t *testing.T) {
	h := New(zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Broadcast([]byte("pending"))
		}
		h.Broadcast([]byte("succeeded"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked without a running hub")
	}

	h.latestMu.Lock()
	latest := string(h.latest)
	h.latestMu.Unlock()
	if latest != "succeeded" {
		t.Fatalf("expected newest snapshot to be kept, got %q", latest)
	}
	if len(h.pending) != 1 {
		t.Fatalf("expected one coalesced wakeup, got %d", len(h.pending))
	}
}
