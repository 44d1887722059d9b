package alarm

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHub_BroadcastReachesClient(t *testing.T) {
	hub := NewWSHub(0, 0)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dialHub(t, srv)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	p := NewPayload(sampleEvent(), false)
	data, _ := p.Encode()
	if accepted := hub.Broadcast(data); accepted != 1 {
		t.Fatalf("Expected 1 client accepting, got %d", accepted)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("Expected text frame, got %d", msgType)
	}

	var got Payload
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.AlarmID != p.AlarmID {
		t.Errorf("Expected alarm %s, got %s", p.AlarmID, got.AlarmID)
	}
}

func TestWSHub_MaxConnections(t *testing.T) {
	hub := NewWSHub(0, 1)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	dialHub(t, srv)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("Expected second connection refused at the cap")
	}
}

func TestWebSocketAdapter_AcceptAlways(t *testing.T) {
	hub := NewWSHub(0, 0)
	adapter := NewWebSocketAdapter(hub)

	cfg := &Config{ID: "ws1", Method: MethodWebSocket, Enabled: true,
		WebSocket: &WebSocketConfig{MaxConnections: 0}}

	// No clients connected but accept-always mode still succeeds.
	result := adapter.Deliver(context.Background(), NewPayload(sampleEvent(), false), cfg)
	if !result.Success {
		t.Errorf("Expected accept-always success, got %q", result.Error)
	}
}

func TestWebSocketAdapter_RequiresSubscriber(t *testing.T) {
	hub := NewWSHub(0, 10)
	adapter := NewWebSocketAdapter(hub)

	cfg := &Config{ID: "ws1", Method: MethodWebSocket, Enabled: true,
		WebSocket: &WebSocketConfig{MaxConnections: 10}}

	result := adapter.Deliver(context.Background(), NewPayload(sampleEvent(), false), cfg)
	if result.Success {
		t.Error("Expected failure with no subscribers and a connection cap")
	}

	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	dialHub(t, srv)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	result = adapter.Deliver(context.Background(), NewPayload(sampleEvent(), false), cfg)
	if !result.Success {
		t.Errorf("Expected success with a subscriber, got %q", result.Error)
	}
}

func TestWSHub_EvictsSlowClient(t *testing.T) {
	hub := NewWSHub(0, 0)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dialHub(t, srv)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	// Close the client side; the hub notices on its next pump cycle or
	// once the send buffer overflows.
	conn.Close()

	data := []byte(`{}`)
	for i := 0; i < wsSendBufferSize+2; i++ {
		hub.Broadcast(data)
	}
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}
