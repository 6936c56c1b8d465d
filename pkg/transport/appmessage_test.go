package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func newTestServer(t *testing.T, ch *AppMessageChannel, participantID string) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ch.ServeHTTP(w, r, participantID); err != nil {
			t.Errorf("ServeHTTP: %v", err)
		}
	}))
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestAppMessageChannelRoutesInboundToHandler(t *testing.T) {
	ch := NewAppMessageChannel()

	var mu sync.Mutex
	var gotSender string
	var gotMsg InboundMessage
	received := make(chan struct{})
	ch.OnInbound = func(senderID string, msg InboundMessage) {
		mu.Lock()
		gotSender = senderID
		gotMsg = msg
		mu.Unlock()
		close(received)
	}

	server, wsURL := newTestServer(t, ch, "p1")
	defer server.Close()

	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(context.Background(), conn, InboundMessage{Type: InboundPTT, Active: true}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message to be routed")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotSender != "p1" {
		t.Fatalf("expected sender p1, got %q", gotSender)
	}
	if gotMsg.Type != InboundPTT || !gotMsg.Active {
		t.Fatalf("expected ptt/active message, got %+v", gotMsg)
	}
}

func TestAppMessageChannelDropsMalformedMessages(t *testing.T) {
	ch := NewAppMessageChannel()
	calls := 0
	ch.OnInbound = func(senderID string, msg InboundMessage) { calls++ }

	server, wsURL := newTestServer(t, ch, "p1")
	defer server.Close()

	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// No "type" field: should be dropped silently.
	if err := wsjson.Write(context.Background(), conn, map[string]string{"active": "true"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wsjson.Write(context.Background(), conn, InboundMessage{Type: InboundApproveHand}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for calls < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the well-formed message to be routed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 routed message, got %d", calls)
	}
}

func TestAppMessageChannelBroadcastsToAllClients(t *testing.T) {
	ch := NewAppMessageChannel()
	server, wsURL := newTestServer(t, ch, "p1")
	defer server.Close()

	conn1, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer conn1.Close(websocket.StatusNormalClosure, "")

	conn2, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer conn2.Close(websocket.StatusNormalClosure, "")

	// Give the server a moment to register both connections.
	time.Sleep(20 * time.Millisecond)

	ch.BroadcastBotStateChanged(context.Background(), "thinking")

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		var msg botStateChangedMsg
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := wsjson.Read(ctx, conn, &msg)
		cancel()
		if err != nil {
			t.Fatalf("read broadcast: %v", err)
		}
		if msg.Type != OutboundBotStateChanged || msg.State != "thinking" {
			t.Fatalf("unexpected broadcast payload: %+v", msg)
		}
	}
}

func TestAppMessageChannelCloseDisconnectsClients(t *testing.T) {
	ch := NewAppMessageChannel()
	server, wsURL := newTestServer(t, ch, "p1")
	defer server.Close()

	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	time.Sleep(20 * time.Millisecond)
	ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Read(ctx, conn, new(map[string]interface{})); err == nil {
		t.Fatal("expected read to fail after channel close")
	}
}
